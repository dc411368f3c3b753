// Package audience owns subscriber lists and the subscription ledger: who is
// on which list, in what status, and who last changed it. It also resolves a
// campaign's raw audience as the deduplicated union of its target lists.
package audience
