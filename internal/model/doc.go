// Package model defines shared data types used across liveboard.
//
// Conventions:
//   - IDs: uuid.UUID, matching the platform's primary keys
//   - Timestamps: time.Time in UTC, RFC 3339 on the wire
//   - ChangeEvent payloads: raw JSON, decoded by the consumer that owns the schema
package model
