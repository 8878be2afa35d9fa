// Package poller is the discovery loop of a worker process. Events only
// make discovery faster; the interval loop alone guarantees no pending job
// is stranded.
//
// The poller and the worker pool share a reservation protocol: a claim is
// attempted only while holding a pool slot, so a saturated worker leaves
// pending jobs in the store for other workers instead of buffering them.
//
// Two paths claim work:
//
//   - the loop, which runs one cycle at Start and then on every interval
//     tick or Wake, claiming until nothing of its types is pending
//   - TryClaim, used by event handlers, which makes one rate-limited,
//     non-blocking attempt and wakes the loop when it cannot proceed
//
// A job in_progress for longer than the stuck threshold is logged. It is
// never reclaimed automatically.
package poller
