package media

import "errors"

// ErrorKind classifies failures so callers can react without string matching.
// A kind is itself an error, which makes errors.Is(err, media.ErrProvider) work.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrURL
	ErrResponse
	ErrProvider
	ErrDecode
	ErrSearch
	ErrContentUnavailable
	ErrArgument
)

func (k ErrorKind) Error() string {
	switch k {
	case ErrURL:
		return "invalid url"
	case ErrResponse:
		return "bad response"
	case ErrProvider:
		return "provider error"
	case ErrDecode:
		return "decode error"
	case ErrSearch:
		return "search error"
	case ErrContentUnavailable:
		return "content unavailable"
	case ErrArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// Error carries a kind, a message and optionally the error that caused it.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError returns an error of the given kind.
func NewError(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// WrapError attaches a kind and message to cause. A nil cause yields nil.
func WrapError(kind ErrorKind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare ErrorKind target against this error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrUnknown
}
