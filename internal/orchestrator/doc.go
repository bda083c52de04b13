// Package orchestrator runs batches of downloads on a bounded worker pool.
//
// Task launches are staggered so a batch does not hit the remote service
// all at once, and every task has a hard deadline. One TaskStatus is
// returned per input, in input order, whether the task succeeded, failed
// or timed out.
package orchestrator
