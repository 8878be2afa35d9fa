package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xraph/mediaflow/id"
	"github.com/xraph/mediaflow/job"
	"github.com/xraph/mediaflow/store/memory"
	"github.com/xraph/mediaflow/subject"
)

func TestApp_Commands(t *testing.T) {
	want := []string{"worker", "migrate", "enqueue", "jobs", "retry", "fail"}
	have := make(map[string]bool)
	for _, c := range App().Commands {
		have[c.Name] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing command %q", name)
		}
	}
}

func TestPrintJobs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	video := subject.NewVideo("talk.mp4")
	if err := s.CreateSubject(ctx, video); err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}
	j, err := s.CreateJob(ctx, video.ID, job.TypeTranscription)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	claimed, err := s.ClaimNext(ctx, job.TypeTranscription, id.NewWorkerID())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v, %v", claimed, err)
	}
	failed, err := s.FailJob(ctx, j.ID, job.ErrorDetails{Class: job.ClassPermanent, Message: "corrupt media", FailedAt: time.Now()})
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var buf bytes.Buffer
	if err := printJobs(&buf, []*job.Job{failed}); err != nil {
		t.Fatalf("printJobs: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"STATUS", j.ID.String(), "failed", "permanent: corrupt media"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDetail(t *testing.T) {
	done := job.New(id.NewVideoID(), job.TypeTranscription)
	ref := id.NewTranscriptID()
	r := job.TranscriptResult(ref)
	done.Result = &r
	done.ProcessingTime = 1500 * time.Millisecond

	if got := detail(done); !strings.Contains(got, ref.String()) || !strings.Contains(got, "1.5s") {
		t.Errorf("detail = %q", got)
	}
	if got := detail(job.New(id.NewVideoID(), job.TypeTranscription)); got != "" {
		t.Errorf("pending detail = %q, want empty", got)
	}
}
