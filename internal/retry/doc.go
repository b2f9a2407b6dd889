// Package retry runs operations with bounded exponential backoff.
//
// The adapter layer uses it for pool exhaustion and transient network
// failures; errors that are deterministic (bad SQL, lowering failures) are
// excluded through Config.Retryable or wrapped with NonRetryable.
package retry
