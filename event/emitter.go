package event

import (
	"context"

	"github.com/xraph/mediaflow/ext"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Emitter)(nil)
	_ ext.JobCreated     = (*Emitter)(nil)
	_ ext.JobClaimed     = (*Emitter)(nil)
	_ ext.JobCompleted   = (*Emitter)(nil)
	_ ext.JobFailed      = (*Emitter)(nil)
	_ ext.JobRetried     = (*Emitter)(nil)
	_ ext.SubjectCreated = (*Emitter)(nil)
)

// Emitter is the extension that turns lifecycle hooks into broker
// events. Every transition produces job.status.changed; completion also
// produces "<stage>.completed".
type Emitter struct {
	pub *Publisher
}

// NewEmitter creates an emitter publishing through pub.
func NewEmitter(pub *Publisher) *Emitter {
	return &Emitter{pub: pub}
}

// Name implements ext.Extension.
func (e *Emitter) Name() string { return "event-emitter" }

func (e *Emitter) OnJobCreated(ctx context.Context, j *job.Job) error {
	e.pub.Publish(ctx, StatusChanged(j))
	return nil
}

func (e *Emitter) OnJobClaimed(ctx context.Context, j *job.Job) error {
	e.pub.Publish(ctx, StatusChanged(j))
	return nil
}

func (e *Emitter) OnJobCompleted(ctx context.Context, j *job.Job) error {
	e.pub.Publish(ctx, StatusChanged(j))
	e.pub.Publish(ctx, Completed(j))
	return nil
}

func (e *Emitter) OnJobFailed(ctx context.Context, j *job.Job) error {
	e.pub.Publish(ctx, StatusChanged(j))
	return nil
}

func (e *Emitter) OnJobRetried(ctx context.Context, j *job.Job) error {
	e.pub.Publish(ctx, StatusChanged(j))
	return nil
}

func (e *Emitter) OnSubjectCreated(ctx context.Context, s *subject.Subject) error {
	e.pub.Publish(ctx, SubjectCreated(s))
	return nil
}
