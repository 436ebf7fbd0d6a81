// Package notify turns delivery jobs into rendered emails.
//
// A [Producer] enqueues typed jobs on a [queue.Queue]. A [Dispatcher] is the
// [queue.Handler] that decodes those jobs, renders them with a [Renderer] and
// hands the message to a [mail.Transport]. Failures are tagged so the worker
// knows which ones to retry.
package notify
