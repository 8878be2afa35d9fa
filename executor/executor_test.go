package executor_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/executor"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	tests := []struct {
		name string
		err  error
		want job.ErrorClass
	}{
		{"explicit transient", executor.Transient(errors.New("upstream 503")), job.ClassTransient},
		{"explicit permanent", executor.Permanent(errors.New("corrupt file")), job.ClassPermanent},
		{"wrapped explicit", fmt.Errorf("stage: %w", executor.Transient(errors.New("x"))), job.ClassTransient},
		{"permanent wins over network cause", executor.Permanent(refused), job.ClassPermanent},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), job.ClassTransient},
		{"connection refused", refused, job.ClassTransient},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), job.ClassTransient},
		{"net timeout", timeoutErr{}, job.ClassTransient},
		{"plain error", errors.New("unsupported codec"), job.ClassPermanent},
		{"cancelled", context.Canceled, job.ClassTransient},
		{"cancelled but explicitly permanent", executor.Permanent(context.Canceled), job.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := executor.Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransientPermanent_Nil(t *testing.T) {
	if executor.Transient(nil) != nil || executor.Permanent(nil) != nil {
		t.Fatal("wrapping nil must return nil")
	}
}

func TestDetails(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cause := &os.PathError{Op: "open", Path: "/media/a.mp4", Err: os.ErrNotExist}

	d := executor.Details(executor.Permanent(cause), now)
	if d.Class != job.ClassPermanent {
		t.Fatalf("class = %s", d.Class)
	}
	if d.Kind != "*fs.PathError" {
		t.Fatalf("kind = %q, want *fs.PathError", d.Kind)
	}
	if d.Message != cause.Error() || !d.FailedAt.Equal(now) {
		t.Fatalf("unexpected details %+v", d)
	}
	if d.Retryable() {
		t.Fatal("permanent failure must not be retryable")
	}
}

func TestRegistry(t *testing.T) {
	r := executor.NewRegistry()
	noop := executor.Func(func(context.Context, *job.Job) (job.Result, error) {
		return job.SummaryResult(id.NewSummaryID()), nil
	})

	if _, err := r.Get(job.TypeSummarization); !errors.Is(err, mediaflow.ErrUnknownJobType) {
		t.Fatalf("expected ErrUnknownJobType, got %v", err)
	}
	if err := r.Register(job.Type("render"), noop); err == nil {
		t.Fatal("expected error registering unknown type")
	}
	if err := r.Register(job.TypeSummarization, nil); err == nil {
		t.Fatal("expected error registering nil executor")
	}
	if err := r.Register(job.TypeSummarization, noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(job.TypeTranscription, noop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	types := r.Types()
	if len(types) != 2 || types[0] != job.TypeTranscription || types[1] != job.TypeSummarization {
		t.Fatalf("Types() = %v, want pipeline order", types)
	}

	e, err := r.Get(job.TypeSummarization)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	res, err := e.Execute(context.Background(), &job.Job{})
	if err != nil || res.Kind != job.ResultSummary {
		t.Fatalf("Execute = %+v, %v", res, err)
	}
}
