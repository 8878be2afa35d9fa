// Package storetest is a conformance suite run against every store.Store
// backend. Backends call Run from their own tests with a constructor that
// returns a fresh, migrated store.
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/store"
	"github.com/xraph/mediaflow/subject"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Lifecycle", testLifecycle},
		{"CreateJobValidation", testCreateJobValidation},
		{"ActiveUniqueness", testActiveUniqueness},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimSingleWinner", testClaimSingleWinner},
		{"ClaimFIFO", testClaimFIFO},
		{"ClaimByType", testClaimByType},
		{"CompleteTwice", testCompleteTwice},
		{"CompleteValidatesResult", testCompleteValidatesResult},
		{"FailThenRetry", testFailThenRetry},
		{"RetryConflict", testRetryConflict},
		{"InvalidTransitions", testInvalidTransitions},
		{"NotFound", testNotFound},
		{"ListAndCount", testListAndCount},
		{"Subjects", testSubjects},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// ClockFactory returns an empty store that reads time from now.
type ClockFactory func(t *testing.T, now func() time.Time) store.Store

// RunClocked executes the ordering cases that need a controlled clock.
// Backends that can inject a time source call it next to Run.
func RunClocked(t *testing.T, newStore ClockFactory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store, clock *Clock)
	}{
		{"ClaimTieBrokenByID", testClaimTieBrokenByID},
		{"ClaimCreatedAtBeforeID", testClaimCreatedAtBeforeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
			tt.fn(t, newStore(t, clock.Now), clock)
		})
	}
}

// Clock is a settable time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func video(t *testing.T, s store.Store) id.SubjectID {
	t.Helper()
	v := subject.NewVideo("clip.mp4")
	if err := s.CreateSubject(context.Background(), v); err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}
	return v.ID
}

func transcript(t *testing.T, s store.Store) id.SubjectID {
	t.Helper()
	tr := subject.NewTranscript(id.NewTranscriptID(), video(t, s))
	if err := s.CreateSubject(context.Background(), tr); err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}
	return tr.ID
}

func mustCreate(t *testing.T, s store.Store, subjectID id.SubjectID, typ job.Type) *job.Job {
	t.Helper()
	j, err := s.CreateJob(context.Background(), subjectID, typ)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func mustClaim(t *testing.T, s store.Store, typ job.Type) *job.Job {
	t.Helper()
	j, err := s.ClaimNext(context.Background(), typ, id.NewWorkerID())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if j == nil {
		t.Fatal("ClaimNext: expected a job, got none")
	}
	return j
}

func wantErr(t *testing.T, op string, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("%s: err = %v, want %v", op, got, want)
	}
}

// ──────────────────────────────────────────────────
// Cases
// ──────────────────────────────────────────────────

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testCreateJobValidation(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateJob(ctx, id.NewVideoID(), job.TypeTranscription)
	wantErr(t, "unknown subject", err, mediaflow.ErrSubjectNotFound)

	v := video(t, s)
	_, err = s.CreateJob(ctx, v, job.TypeSummarization)
	wantErr(t, "kind mismatch", err, mediaflow.ErrInvalidSubject)

	j := mustCreate(t, s, v, job.TypeTranscription)
	if j.Status != job.StatusPending || j.StartedAt != nil || j.CompletedAt != nil {
		t.Fatalf("new job = %+v, want bare pending job", j)
	}
	if j.SubjectID.String() != v.String() || j.Type != job.TypeTranscription {
		t.Fatalf("new job subject/type = %s/%s", j.SubjectID, j.Type)
	}
}

func testActiveUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := video(t, s)
	first := mustCreate(t, s, v, job.TypeTranscription)

	_, err := s.CreateJob(ctx, v, job.TypeTranscription)
	wantErr(t, "duplicate pending", err, mediaflow.ErrConflict)

	mustClaim(t, s, job.TypeTranscription)
	_, err = s.CreateJob(ctx, v, job.TypeTranscription)
	wantErr(t, "duplicate in_progress", err, mediaflow.ErrConflict)

	if _, err := s.CompleteJob(ctx, first.ID, job.TranscriptResult(id.NewTranscriptID())); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	// A finished job no longer blocks the subject.
	mustCreate(t, s, v, job.TypeTranscription)
}

func testClaimEmpty(t *testing.T, s store.Store) {
	j, err := s.ClaimNext(context.Background(), job.TypeTranscription, id.NewWorkerID())
	if err != nil || j != nil {
		t.Fatalf("ClaimNext on empty store = %v, %v; want nil, nil", j, err)
	}
}

func testClaimSingleWinner(t *testing.T, s store.Store) {
	created := mustCreate(t, s, video(t, s), job.TypeTranscription)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*job.Job
		errs    []error
	)
	start := make(chan struct{})
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			j, err := s.ClaimNext(context.Background(), job.TypeTranscription, id.NewWorkerID())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if j != nil {
				winners = append(winners, j)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("ClaimNext errors: %v", errs)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want exactly 1", len(winners))
	}
	w := winners[0]
	if w.ID.String() != created.ID.String() || w.Status != job.StatusInProgress || w.StartedAt == nil {
		t.Fatalf("winner = %+v", w)
	}
}

func testClaimFIFO(t *testing.T, s store.Store) {
	var order []string
	for range 3 {
		j := mustCreate(t, s, video(t, s), job.TypeTranscription)
		order = append(order, j.ID.String())
		// Keep created_at strictly increasing on millisecond-precision backends.
		time.Sleep(2 * time.Millisecond)
	}

	for i, want := range order {
		got := mustClaim(t, s, job.TypeTranscription)
		if got.ID.String() != want {
			t.Fatalf("claim %d = %s, want %s", i, got.ID, want)
		}
	}
}

// Jobs created at the same instant come out in ascending id order.
func testClaimTieBrokenByID(t *testing.T, s store.Store, _ *Clock) {
	var ids []string
	for range 5 {
		j := mustCreate(t, s, video(t, s), job.TypeTranscription)
		ids = append(ids, j.ID.String())
	}
	sort.Strings(ids)

	for i, want := range ids {
		got := mustClaim(t, s, job.TypeTranscription)
		if got.ID.String() != want {
			t.Fatalf("claim %d = %s, want %s (ids %v)", i, got.ID, want, ids)
		}
	}
}

// An older created_at wins even when its id sorts later.
func testClaimCreatedAtBeforeID(t *testing.T, s store.Store, clock *Clock) {
	base := clock.Now()
	var want []string
	for i := range 3 {
		// Each job is stamped earlier than the one before it.
		clock.Set(base.Add(time.Duration(-i) * time.Second))
		j := mustCreate(t, s, video(t, s), job.TypeTranscription)
		want = append([]string{j.ID.String()}, want...)
	}

	for i, w := range want {
		got := mustClaim(t, s, job.TypeTranscription)
		if got.ID.String() != w {
			t.Fatalf("claim %d = %s, want %s", i, got.ID, w)
		}
	}
}

func testClaimByType(t *testing.T, s store.Store) {
	mustCreate(t, s, transcript(t, s), job.TypeSummarization)

	j, err := s.ClaimNext(context.Background(), job.TypeTranscription, id.NewWorkerID())
	if err != nil || j != nil {
		t.Fatalf("transcription claim = %v, %v; want nil, nil", j, err)
	}
	got := mustClaim(t, s, job.TypeSummarization)
	if got.Type != job.TypeSummarization {
		t.Fatalf("claimed type = %s", got.Type)
	}
}

func testCompleteTwice(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, video(t, s), job.TypeTranscription)
	claimed := mustClaim(t, s, job.TypeTranscription)

	ref := id.NewTranscriptID()
	done, err := s.CompleteJob(ctx, claimed.ID, job.TranscriptResult(ref))
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if done.Status != job.StatusCompleted || done.CompletedAt == nil || done.Result == nil {
		t.Fatalf("completed job = %+v", done)
	}
	if done.Result.Ref.String() != ref.String() {
		t.Fatalf("result ref = %s, want %s", done.Result.Ref, ref)
	}
	if done.ProcessingTime < 0 {
		t.Fatalf("processing time = %v", done.ProcessingTime)
	}

	time.Sleep(5 * time.Millisecond)
	_, err = s.CompleteJob(ctx, claimed.ID, job.TranscriptResult(id.NewTranscriptID()))
	wantErr(t, "second CompleteJob", err, mediaflow.ErrInvalidState)

	again, err := s.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if again.ProcessingTime != done.ProcessingTime || !again.CompletedAt.Equal(*done.CompletedAt) {
		t.Fatalf("completion recomputed: %v/%v, was %v/%v",
			again.ProcessingTime, again.CompletedAt, done.ProcessingTime, done.CompletedAt)
	}
	if again.Result.Ref.String() != ref.String() {
		t.Fatalf("result overwritten: %s", again.Result.Ref)
	}
}

func testCompleteValidatesResult(t *testing.T, s store.Store) {
	mustCreate(t, s, video(t, s), job.TypeTranscription)
	claimed := mustClaim(t, s, job.TypeTranscription)

	_, err := s.CompleteJob(context.Background(), claimed.ID, job.SummaryResult(id.NewSummaryID()))
	if err == nil {
		t.Fatal("expected error completing transcription with a summary result")
	}
	got, _ := s.GetJob(context.Background(), claimed.ID)
	if got.Status != job.StatusInProgress {
		t.Fatalf("status after rejected completion = %s", got.Status)
	}
}

func testFailThenRetry(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, transcript(t, s), job.TypeSummarization)
	claimed := mustClaim(t, s, job.TypeSummarization)

	failed, err := s.FailJob(ctx, claimed.ID, job.ErrorDetails{
		Class:   job.ClassTransient,
		Message: "connection refused",
		Kind:    "*net.OpError",
	})
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if failed.Status != job.StatusFailed || failed.Error == nil || failed.Error.Message != "connection refused" {
		t.Fatalf("failed job = %+v", failed)
	}
	if failed.Error.Class != job.ClassTransient {
		t.Fatalf("error class = %q", failed.Error.Class)
	}

	retried, err := s.RetryJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != job.StatusPending || retried.Error != nil || retried.StartedAt != nil {
		t.Fatalf("retried job = %+v", retried)
	}
	if retried.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", retried.Attempts)
	}

	// The retried job is claimable again.
	again := mustClaim(t, s, job.TypeSummarization)
	if again.ID.String() != claimed.ID.String() {
		t.Fatalf("reclaimed %s, want %s", again.ID, claimed.ID)
	}
}

func testRetryConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := video(t, s)
	mustCreate(t, s, v, job.TypeTranscription)
	first := mustClaim(t, s, job.TypeTranscription)
	if _, err := s.FailJob(ctx, first.ID, job.ErrorDetails{Class: job.ClassPermanent, Message: "bad audio"}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	// A fresh job for the same subject is allowed once the first has failed.
	mustCreate(t, s, v, job.TypeTranscription)

	_, err := s.RetryJob(ctx, first.ID)
	wantErr(t, "RetryJob with active sibling", err, mediaflow.ErrConflict)

	got, _ := s.GetJob(ctx, first.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("status after rejected retry = %s", got.Status)
	}
}

func testInvalidTransitions(t *testing.T, s store.Store) {
	ctx := context.Background()
	pending := mustCreate(t, s, video(t, s), job.TypeTranscription)

	_, err := s.CompleteJob(ctx, pending.ID, job.TranscriptResult(id.NewTranscriptID()))
	wantErr(t, "complete pending", err, mediaflow.ErrInvalidState)

	_, err = s.FailJob(ctx, pending.ID, job.ErrorDetails{Message: "x"})
	wantErr(t, "fail pending", err, mediaflow.ErrInvalidState)

	_, err = s.RetryJob(ctx, pending.ID)
	wantErr(t, "retry pending", err, mediaflow.ErrInvalidState)

	claimed := mustClaim(t, s, job.TypeTranscription)
	_, err = s.RetryJob(ctx, claimed.ID)
	wantErr(t, "retry in_progress", err, mediaflow.ErrInvalidState)

	if _, err := s.CompleteJob(ctx, claimed.ID, job.TranscriptResult(id.NewTranscriptID())); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	_, err = s.FailJob(ctx, claimed.ID, job.ErrorDetails{Message: "late"})
	wantErr(t, "fail completed", err, mediaflow.ErrInvalidState)

	_, err = s.RetryJob(ctx, claimed.ID)
	wantErr(t, "retry completed", err, mediaflow.ErrInvalidState)
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	missing := id.NewJobID()

	_, err := s.GetJob(ctx, missing)
	wantErr(t, "GetJob", err, mediaflow.ErrJobNotFound)
	_, err = s.CompleteJob(ctx, missing, job.TranscriptResult(id.NewTranscriptID()))
	wantErr(t, "CompleteJob", err, mediaflow.ErrJobNotFound)
	_, err = s.FailJob(ctx, missing, job.ErrorDetails{})
	wantErr(t, "FailJob", err, mediaflow.ErrJobNotFound)
	_, err = s.RetryJob(ctx, missing)
	wantErr(t, "RetryJob", err, mediaflow.ErrJobNotFound)
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	for range 3 {
		mustCreate(t, s, video(t, s), job.TypeTranscription)
		time.Sleep(2 * time.Millisecond)
	}
	mustCreate(t, s, transcript(t, s), job.TypeSummarization)
	mustClaim(t, s, job.TypeTranscription)

	tests := []struct {
		name string
		opts job.ListOpts
		want int
	}{
		{"all", job.ListOpts{}, 4},
		{"by type", job.ListOpts{Type: job.TypeTranscription}, 3},
		{"by status", job.ListOpts{Status: job.StatusPending}, 3},
		{"type and status", job.ListOpts{Type: job.TypeTranscription, Status: job.StatusInProgress}, 1},
		{"limit", job.ListOpts{Limit: 2}, 2},
		{"offset", job.ListOpts{Offset: 3}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := s.ListJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(jobs) != tt.want {
				t.Fatalf("ListJobs len = %d, want %d", len(jobs), tt.want)
			}
			for i := 1; i < len(jobs); i++ {
				if jobs[i].CreatedAt.Before(jobs[i-1].CreatedAt) {
					t.Fatalf("ListJobs not ordered by created_at at %d", i)
				}
			}
		})
	}

	n, err := s.CountJobs(ctx, job.ListOpts{Type: job.TypeTranscription, Limit: 1})
	if err != nil || n != 3 {
		t.Fatalf("CountJobs = %d, %v; want 3", n, err)
	}
}

func testSubjects(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := subject.NewVideo("lecture.mkv")
	if err := s.CreateSubject(ctx, v); err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}
	if err := s.CreateSubject(ctx, v); err != nil {
		t.Fatalf("CreateSubject again: %v", err)
	}

	got, err := s.GetSubject(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetSubject: %v", err)
	}
	if got.Name != "lecture.mkv" || got.Kind() != subject.KindVideo {
		t.Fatalf("subject = %+v", got)
	}

	tr := subject.NewTranscript(id.NewTranscriptID(), v.ID)
	if err := s.CreateSubject(ctx, tr); err != nil {
		t.Fatalf("CreateSubject transcript: %v", err)
	}
	got, err = s.GetSubject(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetSubject transcript: %v", err)
	}
	if got.ParentID.String() != v.ID.String() {
		t.Fatalf("parent = %s, want %s", got.ParentID, v.ID)
	}

	_, err = s.GetSubject(ctx, id.NewVideoID())
	wantErr(t, "GetSubject unknown", err, mediaflow.ErrSubjectNotFound)
}
