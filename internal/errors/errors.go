package errors

import "fmt"

// codedError is the concrete Error implementation. The zero message
// resolves lazily from the code's message table.
type codedError struct {
	code  ErrorCode
	msg   string
	cause error
	data  any
}

func (e *codedError) Error() string {
	msg := e.msg
	if msg == "" {
		msg = GetErrorMessage(e.code)
	}

	switch {
	case e.data != nil:
		return fmt.Sprintf("%s: %v", msg, e.data)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", msg, e.cause)
	default:
		return msg
	}
}

func (e *codedError) Code() ErrorCode { return e.code }
func (e *codedError) Unwrap() error   { return e.cause }
func (e *codedError) GetData() any    { return e.data }

// clone returns a shallow copy for the With* derivations.
func (e *codedError) clone() *codedError {
	c := *e
	return &c
}

func (e *codedError) WithMessage(msg string) Error {
	c := e.clone()
	c.msg = msg
	return c
}

func (e *codedError) WithData(data any) Error {
	c := e.clone()
	c.data = data
	return c
}

// factory is the stateless default Factory.
type factory struct{}

func (factory) New(code ErrorCode) Error {
	return &codedError{code: code}
}

func (factory) Wrap(code ErrorCode, err error) Error {
	return &codedError{code: code, cause: err}
}

func (factory) WithMessage(code ErrorCode, msg string) Error {
	return &codedError{code: code, msg: msg}
}

func (factory) WithData(code ErrorCode, data any) Error {
	return &codedError{code: code, data: data}
}

// New creates a Factory instance for error creation
func New() Factory {
	return factory{}
}

// IsCode reports whether err carries the given error code anywhere in
// its chain.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var coded Error
		if As(err, &coded) && coded.Code() == code {
			return true
		}
		err = Unwrap(err)
	}

	return false
}

// CodeOf returns the error code of err, or ErrUnknown if err carries
// none.
func CodeOf(err error) ErrorCode {
	var coded Error
	if As(err, &coded) {
		return coded.Code()
	}

	return ErrUnknown
}
