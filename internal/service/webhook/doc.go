// Package webhook turns verified provider callbacks into durable state:
// suppression upserts for bounces and complaints, subscription opt-outs for
// unsubscribes, and per-campaign bounce counters. Every write is an upsert,
// so vendor retry storms replaying the same delivery are safe no-ops at the
// row level.
package webhook
