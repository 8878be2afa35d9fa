package retry_test

import (
	"testing"
	"time"

	"github.com/xraph/mediaflow/backoff"
	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/retry"
)

func failedJob(attempts int, class job.ErrorClass) *job.Job {
	j := job.New(id.NewVideoID(), job.TypeTranscription)
	j.Status = job.StatusFailed
	j.Attempts = attempts
	j.Error = &job.ErrorDetails{Class: class, Message: "boom"}
	return j
}

func TestPolicy_Decide(t *testing.T) {
	policy := retry.Policy{Enabled: true, MaxAttempts: 3, Backoff: backoff.NewExponential(time.Second, time.Minute)}

	tests := []struct {
		name      string
		policy    retry.Policy
		j         *job.Job
		wantRetry bool
		wantDelay time.Duration
	}{
		{"first failure", policy, failedJob(0, job.ClassTransient), true, time.Second},
		{"second failure", policy, failedJob(1, job.ClassTransient), true, 2 * time.Second},
		{"attempts exhausted", policy, failedJob(2, job.ClassTransient), false, 0},
		{"permanent", policy, failedJob(0, job.ClassPermanent), false, 0},
		{"disabled", retry.Policy{MaxAttempts: 5}, failedJob(0, job.ClassTransient), false, 0},
		{"zero max means one retry", retry.Policy{Enabled: true, Backoff: backoff.NewConstant(time.Millisecond)}, failedJob(0, job.ClassTransient), true, time.Millisecond},
		{"zero max second failure", retry.Policy{Enabled: true}, failedJob(1, job.ClassTransient), false, 0},
		{"no error details", policy, job.New(id.NewVideoID(), job.TypeTranscription), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, ok := tt.policy.Decide(tt.j)
			if ok != tt.wantRetry {
				t.Fatalf("retry = %v, want %v", ok, tt.wantRetry)
			}
			if ok && delay != tt.wantDelay {
				t.Fatalf("delay = %v, want %v", delay, tt.wantDelay)
			}
		})
	}
}

func TestPolicies_DefaultDisabled(t *testing.T) {
	ps := retry.Policies{job.TypeSummarization: {Enabled: true, MaxAttempts: 3}}
	if _, ok := ps.For(job.TypeTranscription).Decide(failedJob(0, job.ClassTransient)); ok {
		t.Fatal("types without a policy must not retry")
	}
	if _, ok := ps.For(job.TypeSummarization).Decide(failedJob(0, job.ClassTransient)); !ok {
		t.Fatal("configured type should retry")
	}
}

func TestFromConfig(t *testing.T) {
	p, err := retry.FromConfig(retry.Config{
		Enabled:     true,
		MaxAttempts: 4,
		Backoff:     backoff.Config{Kind: backoff.KindConstant, Initial: 2 * time.Second},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if !p.Enabled || p.MaxAttempts != 4 || p.Backoff.Delay(3) != 2*time.Second {
		t.Fatalf("unexpected policy %+v", p)
	}

	if _, err := retry.FromConfig(retry.Config{MaxAttempts: -1}); err == nil {
		t.Fatal("expected error for negative max_attempts")
	}
	if _, err := retry.FromConfig(retry.Config{Backoff: backoff.Config{Kind: "nope"}}); err == nil {
		t.Fatal("expected error for unknown backoff kind")
	}
}
