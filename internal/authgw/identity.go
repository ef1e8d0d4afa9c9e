// Package authgw implements the optional Auth Gateway (C7): an outer
// WebSocket tier that verifies a client's email+password, then opens a
// trusted inner connection to the Session Gateway and bridges traffic.
package authgw

import "golang.org/x/crypto/bcrypt"

// Identity is one entry in the credentials mapping: an email, its
// bcrypt-hashed password, and the persona string substituted into that
// user's compiled system prompt.
type Identity struct {
	Email        string
	PasswordHash string
	Persona      string
}

// IdentityStore resolves an email to its Identity.
type IdentityStore interface {
	Lookup(email string) (Identity, bool)
}

// MapIdentityStore is the simplest IdentityStore: an in-memory map loaded
// once at startup from the credentials file (see internal/config).
type MapIdentityStore map[string]Identity

func (m MapIdentityStore) Lookup(email string) (Identity, bool) {
	id, ok := m[email]
	return id, ok
}

// VerifyPassword checks a plaintext password against an Identity's bcrypt
// hash. bcrypt.CompareHashAndPassword already runs in constant time with
// respect to the candidate password.
func VerifyPassword(id Identity, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(id.PasswordHash), []byte(password)) == nil
}
