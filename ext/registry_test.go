package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/mediaflow/ext"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/subject"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobCreated(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCreated")
	return nil
}

func (e *allHooksExt) OnJobClaimed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobClaimed")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobRetried(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobRetried")
	return nil
}

func (e *allHooksExt) OnSubjectCreated(_ context.Context, _ *subject.Subject) error {
	e.calls = append(e.calls, "OnSubjectCreated")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// jobOnlyExt only implements job-related hooks.
type jobOnlyExt struct {
	calls []string
}

func (e *jobOnlyExt) Name() string { return "job-only" }

func (e *jobOnlyExt) OnJobCreated(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCreated")
	return nil
}

func (e *jobOnlyExt) OnJobCompleted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobCreated(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	jo := &jobOnlyExt{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := &job.Job{Type: job.TypeTranscription}

	r.EmitJobCreated(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobCreated" {
		t.Fatalf("all: expected [OnJobCreated], got %v", all.calls)
	}
	if len(jo.calls) != 1 || jo.calls[0] != "OnJobCreated" {
		t.Fatalf("jo: expected [OnJobCreated], got %v", jo.calls)
	}

	// Only all implements OnJobClaimed.
	r.EmitJobClaimed(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobClaimed" {
		t.Fatalf("all: expected OnJobClaimed as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Type: job.TypeSummarization}

	r.EmitSubjectCreated(ctx, subject.NewVideo("talk.mp4"))
	r.EmitJobCreated(ctx, j)
	r.EmitJobClaimed(ctx, j)
	r.EmitJobFailed(ctx, j)
	r.EmitJobRetried(ctx, j)
	r.EmitJobCompleted(ctx, j)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnSubjectCreated", "OnJobCreated", "OnJobClaimed",
		"OnJobFailed", "OnJobRetried", "OnJobCompleted", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	r.EmitJobCreated(ctx, &job.Job{})
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls despite failing ext, got %v", all.calls)
	}
	out := buf.String()
	if !strings.Contains(out, "extension=failing") || !strings.Contains(out, "hook=OnJobCreated") {
		t.Fatalf("expected hook error to be logged, got %q", out)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	r.EmitJobCreated(ctx, &job.Job{})
	r.EmitJobClaimed(ctx, &job.Job{})
	r.EmitJobCompleted(ctx, &job.Job{})
	r.EmitJobFailed(ctx, &job.Job{})
	r.EmitJobRetried(ctx, &job.Job{})
	r.EmitSubjectCreated(ctx, &subject.Subject{})
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	var order []string
	r := ext.NewRegistry(slog.Default())
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})
	r.Register(&orderExt{name: "third", order: &order})

	r.EmitJobCompleted(context.Background(), &job.Job{})

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnJobCompleted(_ context.Context, _ *job.Job) error {
	*e.order = append(*e.order, e.name)
	return nil
}
