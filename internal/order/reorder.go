// Package order holds the pure ordering logic of a collection: the move reducer and
// position planning. Nothing here touches storage.
package order

import (
	"fmt"
	"slices"
)

// IndexError reports a from/to index outside the sequence.
type IndexError struct {
	Index int
	Len   int
}

func (e IndexError) Error() string {
	return fmt.Sprintf("index %d out of range [0,%d)", e.Index, e.Len)
}

// Reorder returns a new sequence with the element at from relocated to to.
// Untouched elements keep their relative order. seq is not modified.
func Reorder[T any](seq []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(seq) {
		return nil, IndexError{Index: from, Len: len(seq)}
	}
	if to < 0 || to >= len(seq) {
		return nil, IndexError{Index: to, Len: len(seq)}
	}
	out := make([]T, 0, len(seq))
	out = append(out, seq[:from]...)
	out = append(out, seq[from+1:]...)
	return slices.Insert(out, to, seq[from]), nil
}

// IndexOf returns the index of the first element whose key equals id, or -1.
func IndexOf[T any](seq []T, id string, key func(T) string) int {
	for i := range seq {
		if key(seq[i]) == id {
			return i
		}
	}
	return -1
}
