// Package dispatch coordinates the heterogeneous jobs of the package manager:
// discovering build backends, checking out sources, solving environments,
// instantiating build-tool environments, installing, and building packages
// from source.
//
// Key behaviors:
//   - At most one in-flight execution per request fingerprint; concurrent
//     identical requests coalesce onto the same result.
//   - Successful results are cached for the dispatcher's lifetime; failures
//     are not, so an identical later request retries.
//   - Per-class concurrency ceilings gate admission into the expensive part
//     of a job, never the creation of its pending entry.
//   - Two scheduling policies: concurrent (default) and deterministic
//     serial LIFO for reproducible tests.
//   - Cancellation is drop-based: an abandoned caller stops waiting, the job
//     runs to completion and its result is cached for future requests.
//
// All mutable coordination state is owned by a single processor goroutine;
// front-end Dispatcher handles only send messages and wait for replies.
package dispatch
