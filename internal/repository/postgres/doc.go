// Package postgres implements the service repository interfaces against
// PostgreSQL. Idempotency lives in the schema: unique indexes on the natural
// keys (normalized email for suppressions, (campaign_id, email) for
// recipients, (subscriber_id, list_id) for subscriptions) let every write be
// an ON CONFLICT upsert with no check-then-insert race.
package postgres
