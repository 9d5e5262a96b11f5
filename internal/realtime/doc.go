// Package realtime maintains a live change-feed connection to the platform's
// hosted realtime service.
//
// The Manager owns one logical connection through its full lifecycle. A
// connect attempt moves from disconnected through connecting to connected;
// a failed attempt enters error and schedules a reconnect under an
// exponential backoff budget, degrading to fallback once the budget is
// exhausted. In fallback the caller-supplied
// FallbackRunner (periodic full refetch) keeps data from going stale until an
// explicit Connect succeeds again.
//
// Callers register (topic, event filter, handler) subscriptions; the Manager
// attaches them on connect, re-attaches them after every reconnect, and
// detaches them on Disconnect. Connection health is observable through
// OnStateChange and Diagnostics; retryable failures never cross the API as
// returned errors.
package realtime
