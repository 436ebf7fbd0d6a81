// Package metrics keeps lock-free counters and a job duration histogram for
// passkit.
//
// Counters sit in cache-line padded slots and are bumped atomically, so the
// write path never allocates. [Sink] feeds them from the structured event
// stream; exporters in metrics/export read [Snapshot] values. Nothing here
// performs I/O or registers globals.
package metrics
