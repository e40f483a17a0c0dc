package ai

import (
	"fmt"
	"net/http"
)

// ProviderError is a non-2xx answer from an embedding provider, returned once the HTTP
// layer stopped retrying.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is one the HTTP layer retries.
func (e *ProviderError) Retryable() bool {
	return isRetryableStatus(e.StatusCode)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= http.StatusInternalServerError && code != http.StatusNotImplemented)
}
