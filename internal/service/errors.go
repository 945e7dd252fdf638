package service

import (
	"errors"
	"fmt"
)

// BadRequestError carries a caller-facing reason for a rejected request.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return e.Reason }

func badRequest(format string, args ...any) error {
	return &BadRequestError{Reason: fmt.Sprintf(format, args...)}
}

func IsBadRequest(err error) bool {
	var br *BadRequestError
	return errors.As(err, &br)
}
