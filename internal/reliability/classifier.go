package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsUnauthorizedHTTPStatus reports whether the upstream rejected our credentials.
func IsUnauthorizedHTTPStatus(code int) bool {
	return code == 401 || code == 403
}

// IsSuccessHTTPStatus reports a 2xx status.
func IsSuccessHTTPStatus(code int) bool {
	return code >= 200 && code < 300
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
