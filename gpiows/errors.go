package gpiows

import "fmt"

// Error kinds returned by client operations. The zero kind is
// AlreadyConnectedError so that KindOf can report UnknownError for foreign
// errors without colliding with a real kind.
const (
	AlreadyConnectedError = iota

	ConnectTimeoutError

	ConnectRefusedError

	TLSError

	NotConnectedError

	EncodeError

	DecodeError

	WaitTimeoutError

	TransportClosedError

	InvalidURIError

	InvalidStatusError

	UnknownError
)

type clientError struct {
	kind    int
	message string
}

func (err *clientError) Error() string {
	if err.message == "" {
		return errorName(err.kind)
	}
	return errorName(err.kind) + ": " + err.message
}

func errorName(errorCode int) string {
	switch errorCode {
	case AlreadyConnectedError:
		return "AlreadyConnectedError"
	case ConnectTimeoutError:
		return "ConnectTimeoutError"
	case ConnectRefusedError:
		return "ConnectRefusedError"
	case TLSError:
		return "TLSError"
	case NotConnectedError:
		return "NotConnectedError"
	case EncodeError:
		return "EncodeError"
	case DecodeError:
		return "DecodeError"
	case WaitTimeoutError:
		return "WaitTimeoutError"
	case TransportClosedError:
		return "TransportClosedError"
	case InvalidURIError:
		return "InvalidURIError"
	case InvalidStatusError:
		return "InvalidStatusError"
	default:
		return "UnknownError"
	}
}

// NewError builds a typed client error from an error kind and an optional
// message or wrapped error.
func NewError(errorCode int, message ...interface{}) error {
	if len(message) > 0 {
		return &clientError{kind: errorCode, message: fmt.Sprintf("%v", message[0])}
	}
	return &clientError{kind: errorCode}
}

// KindOf reports the error kind of an error produced by this package, or
// UnknownError for any other error.
func KindOf(err error) int {
	if typed, ok := err.(*clientError); ok {
		return typed.kind
	}
	return UnknownError
}
