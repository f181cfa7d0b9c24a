package mts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vinayprograms/aclmts/errors"
)

// FanOutError reports a multicast send in which at least one recipient was
// not reached. Every recipient was attempted.
//
// errors.Is(err, errors.ErrCodeNotSent) holds for a FanOutError.
type FanOutError struct {
	// Outcomes maps each receiver name to its delivery error; nil means
	// delivered.
	Outcomes map[string]error
	err      *errors.Error
}

func newFanOutError(outcomes map[string]error) *FanOutError {
	e := &FanOutError{Outcomes: outcomes}
	failed := e.Failed()
	e.err = errors.New(errors.ErrCodeNotSent,
		fmt.Sprintf("message not sent to %d of %d receivers", len(failed), len(outcomes)),
		errors.WithMetadata("failed", strings.Join(failed, ",")))
	return e
}

func (e *FanOutError) Error() string {
	var b strings.Builder
	b.WriteString(e.err.Error())
	for _, name := range e.Failed() {
		fmt.Fprintf(&b, "; %s: %v", name, e.Outcomes[name])
	}
	return b.String()
}

// Unwrap exposes the NOT_SENT error.
func (e *FanOutError) Unwrap() error {
	return e.err
}

// Failed returns the names of unreached receivers, sorted.
func (e *FanOutError) Failed() []string {
	var names []string
	for name, err := range e.Outcomes {
		if err != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Delivered returns the names of reached receivers, sorted.
func (e *FanOutError) Delivered() []string {
	var names []string
	for name, err := range e.Outcomes {
		if err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
