package cryptoops

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizeEmail lowercases and trims an address. Storage, lookup, and
// id derivation all operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DeriveUserID returns the stable account id for an email address:
// UUIDv5 over the DNS namespace of the normalized address. Clients
// address recipients by these ids, so the namespace and normalization
// are part of the wire contract and must not change.
func DeriveUserID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(NormalizeEmail(email))).String()
}
