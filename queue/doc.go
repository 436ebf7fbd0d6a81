// Package queue is an at-least-once job queue stored in Redis, with a leasing
// worker pool, exponential backoff and stall recovery.
//
// # Job lifecycle
//
//	waiting -> active -> completed
//	                  -> delayed (retry scheduled) -> waiting
//	                  -> failed (terminal or attempts exhausted)
//	active (lease expired) -> waiting, or failed after MaxStalledCount stalls
//
// A job is owned by one worker at a time through a random lease token. Every
// state change out of active is a script that checks the token first, so a
// worker whose lease expired cannot complete or reschedule a job that was
// already handed to someone else.
//
// # Keys
//
// All keys share the prefix <prefix>:{<name>}: so they hash to one cluster slot:
// wait (list), active (list), delayed (zset by run time), leases (zset by lease
// expiry), completed and failed (bounded lists) and job:<id> (hash).
//
// # Failure classification
//
// Handlers tag errors with [TerminalError] or [RetryableError]. Untagged errors are
// retryable. Terminal errors fail the job immediately.
package queue
