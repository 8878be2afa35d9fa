// Package event is the best-effort notification path between pipeline
// stages. Publishing is never authoritative: the job store is the durable
// fact and the poller finds any work whose event was lost.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// Topic names a broker channel.
type Topic string

const (
	TopicSubjectCreated         Topic = "subject.created"
	TopicTranscriptionCompleted Topic = "transcription.completed"
	TopicSummarizationCompleted Topic = "summarization.completed"
	TopicJobStatusChanged       Topic = "job.status.changed"
)

// Topics returns every topic the pipeline publishes.
func Topics() []Topic {
	return []Topic{
		TopicSubjectCreated,
		TopicTranscriptionCompleted,
		TopicSummarizationCompleted,
		TopicJobStatusChanged,
	}
}

// CompletedTopic returns the "<stage>.completed" topic for a job type.
func CompletedTopic(t job.Type) Topic {
	return Topic(string(t) + ".completed")
}

// TriggerTopic returns the topic whose events signal new work for stage t.
// Transcription work appears with new videos; summarization work appears
// when a transcript is produced.
func TriggerTopic(t job.Type) Topic {
	switch t {
	case job.TypeTranscription:
		return TopicSubjectCreated
	case job.TypeSummarization:
		return TopicTranscriptionCompleted
	}
	return ""
}

// Event is the envelope carried on every topic.
type Event struct {
	ID          id.EventID   `json:"id"`
	Topic       Topic        `json:"topic"`
	JobID       id.JobID     `json:"job_id"`
	SubjectID   id.SubjectID `json:"subject_id"`
	JobType     job.Type     `json:"job_type,omitempty"`
	NewStatus   job.Status   `json:"new_status,omitempty"`
	ResultRef   id.ID        `json:"result_ref"`
	PublishedAt time.Time    `json:"published_at"`
}

func newEvent(topic Topic) *Event {
	return &Event{ID: id.NewEventID(), Topic: topic, PublishedAt: time.Now().UTC()}
}

// StatusChanged builds a job.status.changed event from the job's current
// state.
func StatusChanged(j *job.Job) *Event {
	evt := newEvent(TopicJobStatusChanged)
	evt.JobID = j.ID
	evt.SubjectID = j.SubjectID
	evt.JobType = j.Type
	evt.NewStatus = j.Status
	if j.Result != nil {
		evt.ResultRef = j.Result.Ref
	}
	return evt
}

// Completed builds the "<stage>.completed" event for a finished job.
// ResultRef carries the produced transcript or summary ID.
func Completed(j *job.Job) *Event {
	evt := newEvent(CompletedTopic(j.Type))
	evt.JobID = j.ID
	evt.SubjectID = j.SubjectID
	evt.JobType = j.Type
	evt.NewStatus = j.Status
	if j.Result != nil {
		evt.ResultRef = j.Result.Ref
	}
	return evt
}

// SubjectCreated builds a subject.created event.
func SubjectCreated(s *subject.Subject) *Event {
	evt := newEvent(TopicSubjectCreated)
	evt.SubjectID = s.ID
	return evt
}

// Marshal encodes the event for the wire.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a wire payload.
func Unmarshal(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}
	return &evt, nil
}
