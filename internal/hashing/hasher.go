package hashing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"demo-call-service/internal/config"
	"demo-call-service/internal/util"
)

var ErrInvalidKey = errors.New("invalid hashing key")

// Hasher pseudonymizes personal data (phone numbers) before it reaches analytics.
// The output is stable for a given key so repeat callers can still be counted.
type Hasher struct {
	key []byte
}

// NewHasher uses the configured key, or a random per-process key when none is set.
func NewHasher(cfg *config.Config) (*Hasher, error) {
	key := []byte(cfg.Hashing.PIIKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate hashing key: %w", err)
		}
		util.Warn("PII_HASH_KEY not set, phone hashes will not be stable across restarts")
	}
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("%w: key longer than %d bytes", ErrInvalidKey, blake2b.Size)
	}
	return &Hasher{key: key}, nil
}

// HashPhone returns the hex keyed BLAKE2b-256 digest of a normalized phone number.
func (h *Hasher) HashPhone(phone string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Key length is checked in NewHasher.
		util.Error("Failed to create phone hasher", zap.Error(err))
		return ""
	}
	mac.Write([]byte(phone))
	return hex.EncodeToString(mac.Sum(nil))
}
