package exec

import (
	"context"
	"errors"
)

var (
	// ErrCancelled reports cooperative cancellation of a running stream.
	ErrCancelled = errors.New("execution cancelled")
	// ErrContextLevel reports an operator run under a context resolved to a
	// shallower level than it requires.
	ErrContextLevel = errors.New("insufficient context level")
	// ErrStreamExhausted reports a poll on a stream that already finished.
	ErrStreamExhausted = errors.New("stream exhausted")
)

// EarlyReturn is statement-local control flow, not a failure. A stream that
// surfaces it stops cleanly without terminating the statement as errored.
type EarlyReturn struct {
	Reason string
}

func (e *EarlyReturn) Error() string { return "early return: " + e.Reason }

// IsEarlyReturn reports whether err is statement-local control flow.
func IsEarlyReturn(err error) bool {
	var er *EarlyReturn
	return errors.As(err, &er)
}

// cancelErr maps a context error to the dedicated cancellation kind.
func cancelErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrCancelled, err)
}

// mapCancel wraps context termination surfacing from a lower layer with
// ErrCancelled; any other error passes through unchanged.
func mapCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancelErr(err)
	}
	return err
}
