package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/subject"
)

// CreateSubject stores s. Existing IDs are left untouched.
func (s *Store) CreateSubject(ctx context.Context, sub *subject.Subject) error {
	kind := sub.Kind()
	if kind == "" {
		return fmt.Errorf("mediaflow/postgres: create subject: %q is not a subject id", sub.ID)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mediaflow_subjects (id, kind, parent_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		sub.ID.String(), string(kind), nullable(sub.ParentID), sub.Name,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("mediaflow/postgres: create subject: %w", err)
	}
	return nil
}

// GetSubject retrieves a subject by ID.
func (s *Store) GetSubject(ctx context.Context, subjectID id.SubjectID) (*subject.Subject, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, parent_id, name, created_at, updated_at
		FROM mediaflow_subjects WHERE id = $1`,
		subjectID.String(),
	)
	sub, err := scanSubject(row)
	if err != nil {
		if isNoRows(err) {
			return nil, mediaflow.ErrSubjectNotFound
		}
		return nil, fmt.Errorf("mediaflow/postgres: get subject: %w", err)
	}
	return sub, nil
}

func nullable(i id.ID) *string {
	if i.IsNil() {
		return nil
	}
	s := i.String()
	return &s
}
