// Package deploy orchestrates runs against a target: deploying pending
// changes, reverting deployed ones, verifying live state and reporting
// status. One run holds the target's exclusive lock from first to last
// change; each change executes in its own transaction so a failure
// leaves every earlier change committed and the failing one rolled
// back.
package deploy
