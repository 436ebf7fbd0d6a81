package mail

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"syscall"

	gomail "github.com/wneessen/go-mail"
)

// IsTransient reports whether a send failure may succeed on a later attempt.
//
// Network failures (timeouts, refused or reset connections, DNS lookups) and
// SMTP 4xx replies are transient. SMTP 5xx replies are transient too, except
// the permanent rejections 550 to 554. Anything else, including invalid
// messages, is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidMessage) {
		return false
	}

	// SendError does not unwrap to the reply or network error it records, so
	// its code and failed step are inspected directly.
	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) {
		if code := sendErr.ErrorCode(); code != 0 {
			return transientCode(code)
		}
		switch sendErr.Reason {
		case gomail.ErrSMTPMailFrom, gomail.ErrSMTPRcptTo, gomail.ErrSMTPData,
			gomail.ErrSMTPDataClose, gomail.ErrWriteContent, gomail.ErrConnCheck,
			gomail.ErrSMTPReset:
			return true
		}
		return sendErr.IsTemp()
	}

	if code, ok := SMTPCode(err); ok {
		return transientCode(code)
	}
	return isNetworkError(err)
}

// SMTPCode extracts the SMTP reply code carried by err, if any.
func SMTPCode(err error) (int, bool) {
	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) && sendErr.ErrorCode() != 0 {
		return sendErr.ErrorCode(), true
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, true
	}
	return 0, false
}

func transientCode(code int) bool {
	switch {
	case code >= 400 && code < 500:
		return true
	case code >= 550 && code <= 554:
		return false
	case code >= 500 && code < 600:
		return true
	default:
		return false
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ETIMEDOUT, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
