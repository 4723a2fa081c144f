package brain

import "errors"

// ErrConversationBusy is returned by Originate while a pass holds the
// conversation.
var ErrConversationBusy = errors.New("brain: conversation busy")

// DispatchError tells the stream worker whether a failed message is worth
// another attempt.
type DispatchError struct {
	Err       error
	Retryable bool
}

func (e *DispatchError) Error() string {
	return e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error) *DispatchError {
	return &DispatchError{Err: err, Retryable: true}
}

func NewFatalError(err error) *DispatchError {
	return &DispatchError{Err: err, Retryable: false}
}
