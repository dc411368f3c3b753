// Package suppression maintains the account-wide registry of addresses that
// must never be mailed again. Entries are keyed by normalized email; a
// complaint entry outranks a bounce entry and is never downgraded.
package suppression
