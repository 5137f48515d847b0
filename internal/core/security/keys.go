package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeyPrefix marks every key this service issues.
const KeyPrefix = "bb_live_"

// displayPrefixLen is how much of a key is kept in clear so owners can tell
// their keys apart.
const displayPrefixLen = len(KeyPrefix) + 6

// GenerateAPIKey creates a secure random API key and its SHA256 hash.
//
// Returns:
//   - realKey: the key to show the owner once (e.g. "bb_live_3f9a...")
//   - keyHash: the hash to store; the key itself is never persisted
func GenerateAPIKey() (string, string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	realKey := KeyPrefix + hex.EncodeToString(bytes)
	return realKey, HashAPIKey(realKey), nil
}

// HashAPIKey is the lookup form of a key.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// DisplayPrefix returns the non-secret leading part of a key.
func DisplayPrefix(key string) string {
	if len(key) <= displayPrefixLen {
		return key
	}
	return key[:displayPrefixLen]
}

