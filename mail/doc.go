// Package mail defines the outbound message model and the transports that
// deliver it.
//
// [SMTPTransport] sends through an SMTP relay. [LogTransport] only logs and is
// meant for development. [IsTransient] decides whether a send failure is worth
// retrying.
package mail
