// Package engine defines the capability contract every database backend
// implements: scoped connections, transactions, script execution with
// engine-appropriate statement splitting, registry DDL, an exclusive
// per-target advisory lock, and a minimum-version check at connect time.
// Concrete adapters register themselves in a name-keyed factory; there is
// one interface and one struct per engine, no inheritance.
package engine
