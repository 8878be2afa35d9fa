// Package mediaflow coordinates a two-stage media pipeline (transcription,
// then summarization) across independently deployed worker processes.
//
// Jobs live in a shared store. Workers discover them two ways: by reacting to
// broker events and by polling the store on a fixed interval. Both paths end
// in the same atomic claim, so a job is processed by at most one worker no
// matter how many processes race for it.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithBus(bus),
//	    engine.WithConfig(mediaflow.DefaultConfig()),
//	)
//	eng.Register(job.TypeTranscription, pipeline.NewTranscription(pgStore, media, stt, logger))
//	err = eng.Start(ctx)
//
// # Lifecycle
//
// A job moves pending → in_progress → completed or failed. A failed job
// returns to pending only through an explicit retry, either by an operator or
// by a configured auto-retry policy for transient failures.
//
// There is no lease or heartbeat on in_progress jobs. A worker that crashes
// mid-job leaves it in_progress until an operator fails and retries it.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package mediaflow
