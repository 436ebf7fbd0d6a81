// Package events carries structured lifecycle events out of the session, OTP and
// delivery-queue components.
//
// # Components
//
//   - [Event] is the flat record every component emits.
//   - [Sink] is the consumer interface. [NoOpSink], [ChannelSink], [JSONWriterSink],
//     [ZapSink] and [Multi] are the built-in consumers.
//   - [Dispatcher] relays events to a sink on a background goroutine with a bounded
//     buffer.
//
// # Architecture boundaries
//
// Components receive a [Sink] through their constructor and call Emit. This package
// never decides which events exist beyond the type constants below.
//
// # What this package must NOT do
//
//   - Import passkit, session, otp, queue or notify.
//   - Block a caller when a [Dispatcher] is configured with DropIfFull.
package events
