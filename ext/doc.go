// Package ext defines the extension system for mediaflow.
//
// Extensions are notified of lifecycle events and can react to them,
// for example publishing to the event bus or recording metrics.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job) error {
//	    log.Printf("job %s completed in %s", j.ID, j.ProcessingTime)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobCreated]: job was persisted as pending
//   - [JobClaimed]: a worker won the claim
//   - [JobCompleted]: job finished with a result
//   - [JobFailed]: job failed and recorded error details
//   - [JobRetried]: a failed job was reset to pending
//
// # Other Hooks
//
//   - [SubjectCreated]: a video or transcript was registered
//   - [Shutdown]: the engine is shutting down gracefully
//
// Hook errors are logged and never block the pipeline.
package ext
