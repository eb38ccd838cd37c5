package mpesa

import (
	"context"
	"errors"
)

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return nil
}

func asTimeout(err error, target *interface{ Timeout() bool }) bool {
	return errors.As(err, target)
}
