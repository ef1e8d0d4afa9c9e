package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/conduit/internal/authgw"
)

// identityFile is the on-disk shape of the credentials file: a map of email
// to its bcrypt password hash and persona string.
type identityFile struct {
	Identities map[string]identityEntry `yaml:"identities"`
}

type identityEntry struct {
	PasswordHash string `yaml:"password_hash"`
	Persona      string `yaml:"persona"`
}

// LoadIdentities parses the identity/credentials file into the Auth
// Gateway's IdentityStore shape. Unknown fields are tolerated.
func LoadIdentities(path string) (authgw.MapIdentityStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identities file: %w", err)
	}

	var file identityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse identities file: %w", err)
	}

	store := make(authgw.MapIdentityStore, len(file.Identities))
	for email, entry := range file.Identities {
		if entry.PasswordHash == "" {
			return nil, fmt.Errorf("identity %q is missing a password_hash", email)
		}
		store[email] = authgw.Identity{
			Email:        email,
			PasswordHash: entry.PasswordHash,
			Persona:      entry.Persona,
		}
	}
	return store, nil
}
