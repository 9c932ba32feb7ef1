package proc

import (
	"time"

	"github.com/google/uuid"
)

// Exit is the final status of a proc, returned by Proc.Wait.
type Exit struct {
	id        uuid.UUID
	name      string
	startedAt time.Time
	exitedAt  time.Time
	err       error
}

func (e Exit) ID() uuid.UUID {
	return e.id
}

func (e Exit) Name() string {
	return e.name
}

func (e Exit) Err() error {
	return e.err
}

func (e Exit) IsSuccess() bool {
	return e.err == nil
}

// Code is the conventional exit status: 0 on success, 1 otherwise.
func (e Exit) Code() int {
	if e.err != nil {
		return 1
	}
	return 0
}

func (e Exit) StartedAt() time.Time {
	return e.startedAt
}

func (e Exit) ExitedAt() time.Time {
	return e.exitedAt
}

func (e Exit) Duration() time.Duration {
	return e.exitedAt.Sub(e.startedAt)
}
