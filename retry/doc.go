// Package retry implements the bounded retry and exponential backoff policy
// used by the flow executor around node invocation.
//
// delay(attempt) = min(base * 2^(attempt-1), max) + uniform_jitter(0, maxJitter)
//
// A pluggable predicate classifies errors as retryable; by default only
// rate-limit-shaped errors qualify. Retries stop after MaxAttempts and the
// last error is re-raised.
package retry
