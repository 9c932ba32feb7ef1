package proc

import (
	"errors"
	"reflect"
)

var (
	ErrProcLimit     = errors.New("process limit reached")
	ErrTooManyFiles  = errors.New("too many open files")
	ErrBadDescriptor = errors.New("bad file descriptor")
	ErrPipe          = errors.New("cannot create pipe")
	ErrPanic         = errors.New("proc panicked")
)

func IsNil(i interface{}) bool {
	if i == nil || (reflect.ValueOf(i).Kind() == reflect.Ptr && reflect.ValueOf(i).IsNil()) {
		return true
	}
	return false
}

// Errors flattens errors.Join trees into their leaves, in order.
func Errors(err error) []error {
	if IsNil(err) {
		return []error{}
	}

	e, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}

	var leaves []error
	for _, inner := range e.Unwrap() {
		leaves = append(leaves, Errors(inner)...)
	}
	return leaves
}
