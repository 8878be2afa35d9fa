// Package engine wires the mediaflow subsystems together and provides the
// application-level API for submitting media and running workers.
//
// The engine package exists to break a fundamental import cycle: the root
// mediaflow package defines Entity and the sentinel errors (imported by
// job, subject, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithBus(redisBus),
//	    engine.WithConfig(mediaflow.Config{MaxWorkers: 4, PollInterval: 5 * time.Second}),
//	    engine.WithRetryPolicies(retry.Policies{job.TypeSummarization: policy}),
//	)
//
// # Registering Executors
//
//	eng.Register(job.TypeTranscription, pipeline.NewTranscription(pgStore, media, whisper, logger))
//	eng.Register(job.TypeSummarization, pipeline.NewSummarization(media, ollama, logger))
//
// # Producing Work
//
//	video, j, err := eng.Submit(ctx, "uploads/standup.mp4")
//
// A completed transcription creates its summarization job automatically
// unless [WithFollowUp](false) is given.
//
// # Operating
//
//	eng.Retry(ctx, jobID)         // failed → pending
//	eng.Fail(ctx, jobID, reason)  // stuck in_progress → failed
//	eng.Stuck(ctx)                // in_progress longer than Config.StuckAfter
//
// # Options
//
//   - [WithStore]: the job and subject store (required)
//   - [WithBus]: the event bus; polling alone works without one
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithRetryPolicies]: automatic retry per job type
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
