package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/subject"
)

// CreateSubject stores s. Existing IDs are left untouched.
func (s *Store) CreateSubject(ctx context.Context, sub *subject.Subject) error {
	if sub.Kind() == "" {
		return fmt.Errorf("mediaflow/mongo: create subject: %q is not a subject id", sub.ID)
	}
	_, err := s.mdb.NewInsert(toSubjectModel(sub)).Exec(ctx)
	if err != nil && !isDuplicateKey(err) {
		return fmt.Errorf("mediaflow/mongo: create subject: %w", err)
	}
	return nil
}

// GetSubject retrieves a subject by ID.
func (s *Store) GetSubject(ctx context.Context, subjectID id.SubjectID) (*subject.Subject, error) {
	var m subjectModel
	err := s.mdb.Collection(colSubjects).FindOne(ctx, bson.M{"_id": subjectID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, mediaflow.ErrSubjectNotFound
		}
		return nil, fmt.Errorf("mediaflow/mongo: get subject: %w", err)
	}
	return fromSubjectModel(&m)
}
