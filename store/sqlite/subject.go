package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/subject"
)

// CreateSubject stores s. Existing IDs are left untouched.
func (s *Store) CreateSubject(ctx context.Context, sub *subject.Subject) error {
	if sub.Kind() == "" {
		return fmt.Errorf("mediaflow/sqlite: create subject: %q is not a subject id", sub.ID)
	}
	_, err := s.sdb.NewInsert(toSubjectModel(sub)).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mediaflow/sqlite: create subject: %w", err)
	}
	return nil
}

// GetSubject retrieves a subject by ID.
func (s *Store) GetSubject(ctx context.Context, subjectID id.SubjectID) (*subject.Subject, error) {
	m := new(subjectModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subjectID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, mediaflow.ErrSubjectNotFound
		}
		return nil, fmt.Errorf("mediaflow/sqlite: get subject: %w", err)
	}
	return fromSubjectModel(m)
}
