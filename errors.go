package courier

import "errors"

var (
	// ErrNoClient indicates the pipe was constructed without a
	// submission client.
	ErrNoClient = errors.New("courier: no submission client configured")

	// ErrRetriesExhausted indicates a submission failed after the
	// bounded retry budget.
	ErrRetriesExhausted = errors.New("courier: submission retries exhausted")

	// ErrPollTimeout indicates the polling fallback gave up before the
	// experience resolved.
	ErrPollTimeout = errors.New("courier: poll deadline exceeded")

	// ErrNoResult indicates the push channel completed without ever
	// delivering a result for the job.
	ErrNoResult = errors.New("courier: push channel completed without a result")

	// ErrClosed indicates the pipe has been closed.
	ErrClosed = errors.New("courier: pipe closed")
)
