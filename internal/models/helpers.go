package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	MaxClientSeedLength = 64
	clientSeedBytes     = 16
)

func GenerateDiceID() string {
	return uuid.New().String()
}

func GenerateSettlementID() string {
	return fmt.Sprintf("stl_%s_%s",
		time.Now().UTC().Format("20060102"),
		uuid.New().String())
}

func GenerateInventoryItemID() string {
	return uuid.New().String()
}

func GenerateEventID() string {
	return uuid.New().String()
}

// GenerateClientSeed returns a random URL safe seed with 128 bits of entropy.
func GenerateClientSeed() (string, error) {
	b := make([]byte, clientSeedBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client seed: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateClientSeed accepts 1..64 printable ASCII characters. ':' is refused
// because it separates the seed from the nonce in the roll message.
func ValidateClientSeed(seed string) error {
	if seed == "" {
		return fmt.Errorf("client seed is empty")
	}
	if len(seed) > MaxClientSeedLength {
		return fmt.Errorf("client seed longer than %d characters", MaxClientSeedLength)
	}
	for _, c := range []byte(seed) {
		if c < 0x21 || c > 0x7e || c == ':' {
			return fmt.Errorf("client seed contains invalid character %q", c)
		}
	}
	return nil
}
