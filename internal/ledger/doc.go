// Package ledger keeps a SQLite record of download outcomes and submitted
// orders so later runs can report on and resume earlier work.
package ledger
