// Package api provides the REST client for the platform's data API.
//
// The client retries transient failures (5xx, 429) with exponential backoff
// and jitter. It is the fetch path for the fallback poller's full refetch
// when push updates are unavailable.
package api
