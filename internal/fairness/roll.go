// Package fairness holds the pure provably fair primitives: seed commitments,
// roll derivation, weighted odds tables and upgrade thresholds. Nothing here
// performs I/O.
package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"fairroll-backend/internal/models"
)

// RollMessage is the HMAC message for a roll: "{clientSeed}:{nonce}".
func RollMessage(clientSeed string, nonce uint64) string {
	return clientSeed + ":" + strconv.FormatUint(nonce, 10)
}

// RollDigest returns HMAC_SHA256(key=serverSeed, message=RollMessage(...)).
func RollDigest(serverSeed, clientSeed string, nonce uint64) []byte {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(RollMessage(clientSeed, nonce)))
	return h.Sum(nil)
}

// DeriveRoll maps (serverSeed, clientSeed, nonce) onto [0, 100) with five
// decimal places: the first 8 digest bytes as a big endian uint64, modulo
// 10,000,000. Third parties recompute this to verify a roll, so the byte level
// behaviour must never change.
func DeriveRoll(serverSeed, clientSeed string, nonce uint64) models.Roll {
	digest := RollDigest(serverSeed, clientSeed, nonce)
	n := binary.BigEndian.Uint64(digest[:8])
	return models.Roll(n % models.RollSpace)
}

// RollHash is the hex digest shown next to a revealed roll.
func RollHash(serverSeed, clientSeed string, nonce uint64) string {
	return hex.EncodeToString(RollDigest(serverSeed, clientSeed, nonce))
}
