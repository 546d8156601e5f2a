package models

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")
)

// BadRequestError is returned when an operation's preconditions are not met.
// It matches ErrBadRequest with errors.Is.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

func (e *BadRequestError) Is(target error) bool {
	return target == ErrBadRequest
}

func BadRequest(msg string) error {
	return &BadRequestError{Message: msg}
}
