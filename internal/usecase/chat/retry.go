package chat

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// callExternal runs one transcription or completion invocation under the
// configured per-call deadline and a bounded exponential backoff. Only
// transient failures retry; ExternalRetries=0 means a single attempt.
func (s *Service) callExternal(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
		defer cancel()

		start := time.Now()
		err := fn(callCtx)
		status := "success"
		if err != nil {
			status = "error"
		}
		s.met.RecordExternalCall(service, status, time.Since(start))

		if err == nil {
			return nil
		}
		// the outer context ending must not be retried away
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	retries := s.cfg.ExternalRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)),
		ctx,
	)
	return backoff.Retry(op, policy)
}

// isTransient reports whether an external failure is worth retrying:
// network-level errors and expiry of the per-call deadline.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
