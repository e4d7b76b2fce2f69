// Package plan parses and models sqlward deployment plans.
// A plan is a line-oriented manifest of changes and tags whose file order
// is the deployment order. After parsing, Resolve binds dependency
// references and assigns each entry a chained SHA-1 identity so any edit
// to released history is detectable.
package plan
