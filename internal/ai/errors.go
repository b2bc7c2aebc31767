package ai

import "strings"

// IsRetryable classifies a provider error as transient. Timeouts,
// connection failures, 429 and 5xx responses are worth retrying; auth and
// validation responses are not. Unknown errors default to retryable so a
// new failure mode degrades to backoff rather than a hard stop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "status 429"):
		return true
	case strings.Contains(errStr, "status 5"):
		return true
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection refused"):
		return true
	case strings.Contains(errStr, "context deadline exceeded"):
		return true
	case strings.Contains(errStr, "status 4"):
		return false
	default:
		return true
	}
}

// IsAuthError reports whether err is a credential problem (401/403).
// Auth failures are never retried: the same key will fail the same way.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "status 401") || strings.Contains(errStr, "status 403")
}
