package store

import (
	"errors"
	"fmt"
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError is a field-level problem the caller can show inline.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid: " + e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

var (
	// ErrIncompleteBatch means the write-batch did not list every item of the collection
	// exactly once, usually because the caller's view is stale.
	ErrIncompleteBatch = errors.New("write-batch must list every item of the collection exactly once")
	// ErrNotIncreasing means write-batch positions do not strictly increase in list order.
	ErrNotIncreasing = errors.New("write-batch positions must strictly increase")
)

func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
