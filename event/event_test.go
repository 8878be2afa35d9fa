package event_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/backoff"
	"github.com/xraph/mediaflow/event"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

// logBuffer collects log output written from consumer goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func fastRedelivery() event.LocalOption {
	return event.WithRedeliveryBackoff(backoff.NewConstant(time.Millisecond))
}

func TestLocalBus_EachGroupGetsEveryMessageOnce(t *testing.T) {
	bus := event.NewLocalBus()
	defer bus.Close()
	ctx := context.Background()

	var groupA, groupB atomic.Int64
	count := func(n *atomic.Int64) event.Handler {
		return func(context.Context, *event.Event) error {
			n.Add(1)
			return nil
		}
	}
	// Two consumers compete within group A.
	for _, sub := range []struct {
		group string
		n     *atomic.Int64
	}{{"a", &groupA}, {"a", &groupA}, {"b", &groupB}} {
		if err := bus.Subscribe(ctx, event.TopicSubjectCreated, sub.group, count(sub.n)); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	const total = 20
	for range total {
		if err := bus.Publish(ctx, event.SubjectCreated(subject.NewVideo("v.mp4"))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return groupA.Load() == total && groupB.Load() == total })
	time.Sleep(20 * time.Millisecond)
	if groupA.Load() != total || groupB.Load() != total {
		t.Fatalf("group a = %d, group b = %d, want %d each", groupA.Load(), groupB.Load(), total)
	}
}

func TestLocalBus_TopicIsolation(t *testing.T) {
	bus := event.NewLocalBus()
	defer bus.Close()
	ctx := context.Background()

	var got atomic.Int64
	_ = bus.Subscribe(ctx, event.TopicTranscriptionCompleted, "summarizers", func(context.Context, *event.Event) error {
		got.Add(1)
		return nil
	})

	_ = bus.Publish(ctx, event.SubjectCreated(subject.NewVideo("v.mp4")))
	time.Sleep(30 * time.Millisecond)
	if got.Load() != 0 {
		t.Fatalf("handler received %d events from another topic", got.Load())
	}
}

func TestLocalBus_RedeliversUntilHandlerSucceeds(t *testing.T) {
	bus := event.NewLocalBus(fastRedelivery())
	defer bus.Close()
	ctx := context.Background()

	var attempts atomic.Int64
	_ = bus.Subscribe(ctx, event.TopicSubjectCreated, "g", func(context.Context, *event.Event) error {
		if attempts.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	_ = bus.Publish(ctx, event.SubjectCreated(subject.NewVideo("v.mp4")))

	waitFor(t, 2*time.Second, func() bool { return attempts.Load() == 3 })
	time.Sleep(20 * time.Millisecond)
	if n := attempts.Load(); n != 3 {
		t.Fatalf("attempts = %d, want 3 (acknowledged after success)", n)
	}
	if s := bus.Stats(); s.Redelivered != 2 {
		t.Fatalf("redelivered = %d, want 2", s.Redelivered)
	}
}

func TestLocalBus_HandlerPanicIsRecovered(t *testing.T) {
	bus := event.NewLocalBus(fastRedelivery())
	defer bus.Close()
	ctx := context.Background()

	var attempts atomic.Int64
	_ = bus.Subscribe(ctx, event.TopicSubjectCreated, "g", func(context.Context, *event.Event) error {
		if attempts.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	_ = bus.Publish(ctx, event.SubjectCreated(subject.NewVideo("v.mp4")))

	waitFor(t, 2*time.Second, func() bool { return attempts.Load() == 2 })
}

func TestLocalBus_AbandonsAfterMaxRedeliveries(t *testing.T) {
	buf := &logBuffer{}
	bus := event.NewLocalBus(
		fastRedelivery(),
		event.WithMaxRedeliveries(2),
		event.WithLogger(slog.New(slog.NewTextHandler(buf, nil))),
	)
	defer bus.Close()
	ctx := context.Background()

	var attempts atomic.Int64
	_ = bus.Subscribe(ctx, event.TopicSubjectCreated, "g", func(context.Context, *event.Event) error {
		attempts.Add(1)
		return errors.New("always")
	})
	_ = bus.Publish(ctx, event.SubjectCreated(subject.NewVideo("v.mp4")))

	waitFor(t, 2*time.Second, func() bool { return bus.Stats().Dropped == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := attempts.Load(); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
	if !strings.Contains(buf.String(), "event delivery abandoned") {
		t.Fatalf("expected abandon log, got %q", buf.String())
	}
}

func TestLocalBus_FullBufferReportsUnavailable(t *testing.T) {
	bus := event.NewLocalBus(event.WithBufferSize(1))
	ctx := context.Background()

	release := make(chan struct{})
	_ = bus.Subscribe(ctx, event.TopicSubjectCreated, "g", func(context.Context, *event.Event) error {
		<-release
		return nil
	})

	var failed int
	for range 3 {
		err := bus.Publish(ctx, event.SubjectCreated(subject.NewVideo("v.mp4")))
		if err != nil {
			if !errors.Is(err, mediaflow.ErrBrokerUnavailable) {
				t.Fatalf("expected ErrBrokerUnavailable, got %v", err)
			}
			failed++
		}
	}
	close(release)
	_ = bus.Close()

	if failed == 0 {
		t.Fatal("expected at least one publish to report a full buffer")
	}
}

func TestLocalBus_ClosedBusRejects(t *testing.T) {
	bus := event.NewLocalBus()
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ctx := context.Background()

	if err := bus.Publish(ctx, event.SubjectCreated(subject.NewVideo("v.mp4"))); !errors.Is(err, mediaflow.ErrBrokerUnavailable) {
		t.Fatalf("Publish after close: got %v", err)
	}
	err := bus.Subscribe(ctx, event.TopicSubjectCreated, "g", func(context.Context, *event.Event) error { return nil })
	if !errors.Is(err, mediaflow.ErrBrokerUnavailable) {
		t.Fatalf("Subscribe after close: got %v", err)
	}
	// Close is idempotent.
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// failingBus refuses every publish.
type failingBus struct{ calls atomic.Int64 }

func (b *failingBus) Publish(context.Context, *event.Event) error {
	b.calls.Add(1)
	return errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
}

func (b *failingBus) Subscribe(context.Context, event.Topic, string, event.Handler) error {
	return nil
}

func (b *failingBus) Close() error { return nil }

func TestPublisher_SwallowsBrokerErrors(t *testing.T) {
	var buf bytes.Buffer
	bus := &failingBus{}
	pub := event.NewPublisher(bus, slog.New(slog.NewTextHandler(&buf, nil)))

	j := job.New(id.NewVideoID(), job.TypeTranscription)
	pub.Publish(context.Background(), event.StatusChanged(j))

	if bus.calls.Load() != 1 {
		t.Fatalf("bus calls = %d, want 1", bus.calls.Load())
	}
	if pub.Failures() != 1 {
		t.Fatalf("failures = %d, want 1", pub.Failures())
	}
	if !strings.Contains(buf.String(), "broker unavailable") {
		t.Fatalf("expected broker unavailable in log, got %q", buf.String())
	}
}

func TestPublisher_IgnoresCallerCancellation(t *testing.T) {
	rec := &recordingBus{}
	pub := event.NewPublisher(rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub.Publish(ctx, event.SubjectCreated(subject.NewVideo("v.mp4")))

	if len(rec.topics()) != 1 || rec.ctxErr != nil {
		t.Fatalf("expected publish with live context, got topics %v ctxErr %v", rec.topics(), rec.ctxErr)
	}
}

func TestPublisher_NilBusIsNoop(t *testing.T) {
	pub := event.NewPublisher(nil, nil)
	pub.Publish(context.Background(), event.SubjectCreated(subject.NewVideo("v.mp4")))
	if pub.Failures() != 0 {
		t.Fatalf("failures = %d, want 0", pub.Failures())
	}
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []*event.Event
	ctxErr error
}

func (b *recordingBus) Publish(ctx context.Context, evt *event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	b.ctxErr = ctx.Err()
	return nil
}

func (b *recordingBus) Subscribe(context.Context, event.Topic, string, event.Handler) error {
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) topics() []event.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Topic, len(b.events))
	for i, e := range b.events {
		out[i] = e.Topic
	}
	return out
}

func TestEmitter_TopicsPerHook(t *testing.T) {
	rec := &recordingBus{}
	em := event.NewEmitter(event.NewPublisher(rec, nil))
	ctx := context.Background()

	video := subject.NewVideo("talk.mp4")
	j := job.New(video.ID, job.TypeTranscription)
	trID := id.NewTranscriptID()
	j.Status = job.StatusCompleted
	r := job.TranscriptResult(trID)
	j.Result = &r

	_ = em.OnSubjectCreated(ctx, video)
	_ = em.OnJobCreated(ctx, j)
	_ = em.OnJobClaimed(ctx, j)
	_ = em.OnJobFailed(ctx, j)
	_ = em.OnJobRetried(ctx, j)
	_ = em.OnJobCompleted(ctx, j)

	want := []event.Topic{
		event.TopicSubjectCreated,
		event.TopicJobStatusChanged,
		event.TopicJobStatusChanged,
		event.TopicJobStatusChanged,
		event.TopicJobStatusChanged,
		event.TopicJobStatusChanged,
		event.TopicTranscriptionCompleted,
	}
	got := rec.topics()
	if len(got) != len(want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("topics = %v, want %v", got, want)
		}
	}

	last := rec.events[len(rec.events)-1]
	if last.ResultRef.String() != trID.String() {
		t.Fatalf("result_ref = %s, want %s", last.ResultRef, trID)
	}
	if last.SubjectID.String() != video.ID.String() || last.JobType != job.TypeTranscription {
		t.Fatalf("unexpected completion payload %+v", last)
	}
}

func TestEvent_WireFormat(t *testing.T) {
	video := subject.NewVideo("talk.mp4")
	evt := event.SubjectCreated(video)

	data, err := evt.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"topic":"subject.created"`, `"subject_id":"` + video.ID.String() + `"`, `"job_id":""`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("payload %s missing %s", data, key)
		}
	}

	got, err := event.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.JobID.IsNil() || got.SubjectID.String() != video.ID.String() {
		t.Fatalf("decoded %+v", got)
	}
	if _, err := event.Unmarshal([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestTriggerTopic(t *testing.T) {
	tests := []struct {
		typ  job.Type
		want event.Topic
	}{
		{job.TypeTranscription, event.TopicSubjectCreated},
		{job.TypeSummarization, event.TopicTranscriptionCompleted},
		{job.Type("render"), ""},
	}
	for _, tt := range tests {
		if got := event.TriggerTopic(tt.typ); got != tt.want {
			t.Errorf("TriggerTopic(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}
	if got := event.CompletedTopic(job.TypeSummarization); got != event.TopicSummarizationCompleted {
		t.Errorf("CompletedTopic = %q", got)
	}
}
