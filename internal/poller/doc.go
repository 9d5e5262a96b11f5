// Package poller implements fallback polling: periodic full refetch of the
// mirrored data sets when push updates are unavailable, so the dashboard does
// not go stale indefinitely.
package poller
