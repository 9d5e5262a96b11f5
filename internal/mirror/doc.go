// Package mirror keeps a local Postgres copy of the dashboard's hot tables.
//
// Two write paths feed it: incremental change events from the realtime feed,
// and full-table replacement from the fallback poller's refetch. Both are
// idempotent, so a brief overlap during reconnection cannot corrupt the mirror.
package mirror
