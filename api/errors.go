package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a submission failure. The delivery pipe's retry
// policy is keyed entirely off this classification:
//
//   - KindConflict: correlation-id collision on create; resubmitted a
//     bounded number of times with the same parameters.
//   - KindQuota: quota/limit exceeded; always terminal, never retried.
//   - KindTransient: network-level or 5xx failure; retried bounded.
//   - KindPermanent: everything else; terminal.
type ErrorKind int

const (
	KindPermanent ErrorKind = iota
	KindConflict
	KindQuota
	KindTransient
)

// String returns the classification name.
func (k ErrorKind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindQuota:
		return "quota"
	case KindTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// StatusError is a classified submission failure. Code is zero for
// network-level failures that never produced a response.
type StatusError struct {
	Op   string
	Kind ErrorKind
	Code int
	Body string
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("api: %s: %s: status %d: %s", e.Op, e.Kind, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }

// classify maps an HTTP status code to an error kind.
func classify(code int) ErrorKind {
	switch {
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusTooManyRequests:
		return KindQuota
	case code == http.StatusRequestTimeout || code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// IsConflict reports whether err is a correlation-id collision.
func IsConflict(err error) bool { return kindOf(err) == KindConflict }

// IsQuotaExceeded reports whether err is a quota/limit failure.
func IsQuotaExceeded(err error) bool { return kindOf(err) == KindQuota }

// IsTransient reports whether err may be retried with the same parameters.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

func kindOf(err error) ErrorKind {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindPermanent
}
