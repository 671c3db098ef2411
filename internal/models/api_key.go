package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Permission names recognised on API keys.
const (
	PermissionRead  = "read"
	PermissionAdmin = "admin"
)

// APIKey is a configured credential for the admin API.
type APIKey struct {
	Key         string   `yaml:"key" json:"-"`
	Name        string   `yaml:"name" json:"name"`
	Permissions []string `yaml:"permissions" json:"permissions"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
}

// HasPermission returns true when the key is enabled and possesses the
// required permission. "admin" and "*" grant everything.
func (ak *APIKey) HasPermission(required string) bool {
	if !ak.Enabled {
		return false
	}
	for _, p := range ak.Permissions {
		if p == required || p == "*" || p == PermissionAdmin {
			return true
		}
	}
	return false
}

// Matches compares a presented token against the key in constant time.
func (ak *APIKey) Matches(token string) bool {
	return subtle.ConstantTimeCompare([]byte(ak.Key), []byte(token)) == 1
}

// HashAPIKey computes the SHA-256 hex digest of a raw API key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
