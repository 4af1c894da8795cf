// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Identity is device-derived: the client hands us a fingerprint-derived
// DeviceID and we trust it (there is no password and no server-side proof —
// identity proofing is handled, if at all, outside this service). We still
// generate our own internal string ID (xid) so primary keys aren't tied to
// whatever scheme the fingerprinting library uses.
//
// Nickname is mutable and must be unique (case-sensitively) among active
// users at any instant. DeviceID never changes for the lifetime of the user.
type User struct {
	ID         string    `json:"id"         db:"id"`
	DeviceID   string    `json:"deviceId"   db:"device_id"`
	Nickname   string    `json:"nickname"   db:"nickname"`
	CreatedAt  time.Time `json:"createdAt"  db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt"  db:"updated_at"`
	LastActive time.Time `json:"lastActive" db:"last_active"`
	Active     bool      `json:"active"     db:"is_active"`
}
