// Package job defines the job entity, its status machine, and the store
// contract that arbitrates claims between worker processes.
//
// # Job Entity
//
// A [Job] is one pipeline stage ([TypeTranscription] or
// [TypeSummarization]) for one subject. It moves through:
//
//	pending → in_progress → completed
//	pending → in_progress → failed → pending (retry only)
//
// Fields of note:
//   - SubjectID: the video (transcription) or transcript (summarization)
//   - WorkerID: the claimer while in_progress
//   - ProcessingTime: CompletedAt - StartedAt, written once on completion
//   - Error: structured failure, present only while failed
//   - Result: the produced transcript or summary ID, present only when completed
//   - Attempts: how many times the job has been retried
//
// # Transitions
//
// [Job.Claim], [Job.Complete], [Job.Fail] and [Job.Reset] apply a
// transition in memory and return [mediaflow.ErrInvalidState] when the
// current status does not allow it. SQL and document backends express the
// same rules as conditional updates.
package job
