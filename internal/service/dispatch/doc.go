// Package dispatch runs one campaign send end to end: audience resolution,
// exclusion filtering, per-recipient rendering, rate-limited batch submission
// to the configured mail provider, and durable per-recipient accounting.
//
// The job is safely re-entrant. Recipient rows are keyed by
// (campaign_id, email), so a crashed run resumed later skips everyone already
// recorded, and invoking the job on a sent campaign is a no-op.
package dispatch
