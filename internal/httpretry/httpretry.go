// Package httpretry issues HTTP requests with a fixed retry policy:
// up to N attempts with exponential backoff (1s, 2s), retrying only on
// timeouts and connection failures. A received response of any status
// is an answer, not a transport failure, and is never retried.
package httpretry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Retryable reports whether a transport error is worth retrying.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Do issues the request up to attempts times. The request body is rebuilt
// per attempt via build so retries never reuse a drained reader.
func Do(ctx context.Context, client *http.Client, build func() (*http.Request, error), attempts int, log *logrus.Logger) (*http.Response, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req.WithContext(ctx))
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !Retryable(err) || attempt == attempts {
			break
		}

		backoff := time.Duration(1<<(attempt-1)) * time.Second
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": backoff,
		}).Warn("transient request failure, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
