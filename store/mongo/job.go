package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// CreateJob inserts a pending job. The partial unique index rejects a
// second active job for the same subject and stage.
func (s *Store) CreateJob(ctx context.Context, subjectID id.SubjectID, t job.Type) (*job.Job, error) {
	if err := subject.Accepts(subjectID, t); err != nil {
		return nil, err
	}

	err := s.mdb.Collection(colSubjects).FindOne(ctx, bson.M{"_id": subjectID.String()}).Err()
	if err != nil {
		if isNoDocuments(err) {
			return nil, mediaflow.ErrSubjectNotFound
		}
		return nil, fmt.Errorf("mediaflow/mongo: create job: check subject: %w", err)
	}

	j := job.New(subjectID, t)
	ts := s.now()
	j.CreatedAt, j.UpdatedAt = ts, ts

	if _, err := s.mdb.NewInsert(toJobModel(j)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return nil, mediaflow.ErrConflict
		}
		return nil, fmt.Errorf("mediaflow/mongo: create job: %w", err)
	}
	return j, nil
}

// ClaimNext atomically claims the oldest pending job of type t.
func (s *Store) ClaimNext(ctx context.Context, t job.Type, workerID id.WorkerID) (*job.Job, error) {
	ts := s.now()
	filter := bson.M{
		"job_type": string(t),
		"status":   string(job.StatusPending),
	}
	update := bson.M{"$set": bson.M{
		"status":     string(job.StatusInProgress),
		"worker_id":  workerID.String(),
		"started_at": ts,
		"updated_at": ts,
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		})

	var m jobModel
	err := s.mdb.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil //nolint:nilnil // nothing claimable
		}
		return nil, fmt.Errorf("mediaflow/mongo: claim next: %w", err)
	}
	return fromJobModel(&m)
}

// CompleteJob moves an in_progress job to completed. An update pipeline
// derives processing_time_ms from the stored started_at.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, r job.Result) (*job.Job, error) {
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(current.Type); err != nil {
		return nil, err
	}

	ts := s.now()
	update := mongod.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(job.StatusCompleted)},
			{Key: "result_kind", Value: string(r.Kind)},
			{Key: "result_ref", Value: r.Ref.String()},
			{Key: "completed_at", Value: ts},
			{Key: "processing_time_ms", Value: bson.M{
				"$ifNull": bson.A{bson.M{"$subtract": bson.A{ts, "$started_at"}}, 0},
			}},
			{Key: "updated_at", Value: ts},
		}}},
	}
	return s.transition(ctx, "complete job", jobID, job.StatusInProgress, update)
}

// FailJob moves an in_progress job to failed.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, details job.ErrorDetails) (*job.Job, error) {
	ts := s.now()
	if details.FailedAt.IsZero() {
		details.FailedAt = ts
	}
	update := bson.M{"$set": bson.M{
		"status": string(job.StatusFailed),
		"error_details": errorModel{
			Class:    string(details.Class),
			Message:  details.Message,
			Kind:     details.Kind,
			FailedAt: details.FailedAt,
		},
		"updated_at": ts,
	}}
	return s.transition(ctx, "fail job", jobID, job.StatusInProgress, update)
}

// RetryJob moves a failed job back to pending and clears the previous
// attempt.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	update := bson.M{
		"$set": bson.M{
			"status":             string(job.StatusPending),
			"processing_time_ms": 0,
			"updated_at":         s.now(),
		},
		"$inc": bson.M{"attempts": 1},
		"$unset": bson.M{
			"worker_id":     "",
			"error_details": "",
			"result_kind":   "",
			"result_ref":    "",
			"started_at":    "",
			"completed_at":  "",
		},
	}
	return s.transition(ctx, "retry job", jobID, job.StatusFailed, update)
}

// transition applies update only if the job is currently in status from.
func (s *Store) transition(ctx context.Context, op string, jobID id.JobID, from job.Status, update any) (*job.Job, error) {
	filter := bson.M{"_id": jobID.String(), "status": string(from)}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.mdb.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	switch {
	case err == nil:
		return fromJobModel(&m)
	case isDuplicateKey(err):
		return nil, mediaflow.ErrConflict
	case !isNoDocuments(err):
		return nil, fmt.Errorf("mediaflow/mongo: %s: %w", op, err)
	}

	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, mediaflow.ErrInvalidState
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.mdb.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, mediaflow.ErrJobNotFound
		}
		return nil, fmt.Errorf("mediaflow/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ListJobs returns matching jobs, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.mdb.Collection(colJobs).Find(ctx, listFilter(opts), findOpts)
	if err != nil {
		return nil, fmt.Errorf("mediaflow/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("mediaflow/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.ListOpts) (int64, error) {
	n, err := s.mdb.Collection(colJobs).CountDocuments(ctx, listFilter(opts))
	if err != nil {
		return 0, fmt.Errorf("mediaflow/mongo: count jobs: %w", err)
	}
	return n, nil
}

func listFilter(opts job.ListOpts) bson.M {
	filter := bson.M{}
	if opts.Type != "" {
		filter["job_type"] = string(opts.Type)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.SubjectID.IsNil() {
		filter["subject_id"] = opts.SubjectID.String()
	}
	return filter
}
