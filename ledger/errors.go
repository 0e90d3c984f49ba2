// Package ledger holds the contract shared by remote asset ledger clients.
package ledger

import "errors"

// ErrUndecodable marks a remote call that completed but whose return data
// could not be decoded into the expected result.
var ErrUndecodable = errors.New("ledger: undecodable return data")
