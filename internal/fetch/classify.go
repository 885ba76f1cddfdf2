package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// class buckets a fetch error by how the retry loop must react.
type class int

const (
	// classTransient errors are retried with backoff up to the budget.
	classTransient class = iota
	// classPermanent errors fail the tile immediately without consuming
	// retry budget.
	classPermanent
	// classHard errors are authorization or quota failures; repeated hard
	// failures abort the whole batch.
	classHard
)

// httpStatusError is the classification contract the external requester
// satisfies; the fetcher never sees HTTP internals beyond this.
type httpStatusError interface {
	HTTPStatus() int
}

// quotaSignaler distinguishes quota exhaustion from plain auth rejection on
// hard failures.
type quotaSignaler interface {
	QuotaExceeded() bool
}

// classify maps an error from the requester to its retry class. Connection
// errors and timeouts are transient, matching the upstream behavior of
// retrying 429/5xx while failing fast on other 4xx.
func classify(err error) class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classPermanent
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.HTTPStatus(); {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return classHard
		case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
			return classTransient
		case code >= 500:
			return classTransient
		case code >= 400:
			return classPermanent
		}
		return classTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classTransient
	}

	// Unrecognized errors default to transient so flaky transports get
	// their retry budget.
	return classTransient
}

// isQuota reports whether a hard failure stems from quota exhaustion rather
// than bad credentials.
func isQuota(err error) bool {
	var q quotaSignaler
	if errors.As(err, &q) {
		return q.QuotaExceeded()
	}
	return false
}

func statusOf(err error) int {
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus()
	}
	return 0
}
