// Package registry records deployment state in the target database.
// Every deploy, revert and failure writes through a Store, and the
// recorded history is the source of truth for what is live on a target.
//
// The SQL store issues engine-neutral statements with '?' placeholders
// and lets the adapter rebind them to its native style, so one
// implementation serves every engine. MemStore backs tests that need
// registry semantics without a database.
package registry
