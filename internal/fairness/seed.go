package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/models"
)

const serverSeedBytes = 32

// GenerateServerSeed returns 256 bits from crypto/rand, hex encoded.
func GenerateServerSeed() (string, error) {
	b := make([]byte, serverSeedBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate server seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashServerSeed is the public commitment: hex(SHA256(serverSeed)).
func HashServerSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// NewDice creates an active dice with a fresh server seed. An empty clientSeed
// is replaced by a generated one.
func NewDice(userID int64, clientSeed string) (*models.Dice, error) {
	const op = "fairness.NewDice"

	if clientSeed == "" {
		seed, err := models.GenerateClientSeed()
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, op, err)
		}
		clientSeed = seed
	} else if err := models.ValidateClientSeed(clientSeed); err != nil {
		return nil, apperr.E(apperr.CodeInvalidSeed, op, err.Error())
	}

	serverSeed, err := GenerateServerSeed()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, op, err)
	}

	now := time.Now().UTC()
	return &models.Dice{
		ID:             models.GenerateDiceID(),
		UserID:         userID,
		ServerSeed:     serverSeed,
		ServerSeedHash: HashServerSeed(serverSeed),
		ClientSeed:     clientSeed,
		Nonce:          0,
		Status:         models.DiceStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// NextDice provisions the dice that follows a completed one: a new server
// seed under the same client seed. A new server seed is a new seed pair, so
// the nonce starts over at 0.
func NextDice(prev *models.Dice) (*models.Dice, error) {
	return NewDice(prev.UserID, prev.ClientSeed)
}

// RotateServerSeed replaces the server seed of an active dice and resets its
// nonce.
func RotateServerSeed(d *models.Dice) error {
	const op = "fairness.RotateServerSeed"

	if !d.IsActive() {
		return apperr.E(apperr.CodeInvalidState, op, "dice "+d.ID+" is completed")
	}

	serverSeed, err := GenerateServerSeed()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, op, err)
	}

	d.ServerSeed = serverSeed
	d.ServerSeedHash = HashServerSeed(serverSeed)
	d.Nonce = 0
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// SetClientSeed changes the client seed of an active dice.
func SetClientSeed(d *models.Dice, seed string) error {
	const op = "fairness.SetClientSeed"

	if !d.IsActive() {
		return apperr.E(apperr.CodeInvalidState, op, "dice "+d.ID+" is completed")
	}
	if err := models.ValidateClientSeed(seed); err != nil {
		return apperr.E(apperr.CodeInvalidSeed, op, err.Error())
	}

	d.ClientSeed = seed
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete rolls an active dice, records the result and freezes it.
func Complete(d *models.Dice) (models.Roll, error) {
	const op = "fairness.Complete"

	if !d.IsActive() {
		return 0, apperr.E(apperr.CodeInvalidState, op, "dice "+d.ID+" is already completed")
	}

	roll := DeriveRoll(d.ServerSeed, d.ClientSeed, d.Nonce)
	now := time.Now().UTC()

	d.Status = models.DiceStatusCompleted
	d.Result = &roll
	d.CompletedAt = &now
	d.UpdatedAt = now
	return roll, nil
}

// Reveal discloses the inputs of a completed dice.
func Reveal(d *models.Dice) (models.Reveal, error) {
	const op = "fairness.Reveal"

	if d.IsActive() || d.Result == nil {
		return models.Reveal{}, apperr.E(apperr.CodeInvalidState, op, "dice "+d.ID+" is not completed")
	}

	return models.Reveal{
		DiceID:         d.ID,
		ServerSeed:     d.ServerSeed,
		ServerSeedHash: d.ServerSeedHash,
		ClientSeed:     d.ClientSeed,
		Nonce:          d.Nonce,
		Result:         *d.Result,
	}, nil
}

// Verify recomputes a reveal the way an outside party would.
func Verify(r models.Reveal) models.VerificationResult {
	recomputed := DeriveRoll(r.ServerSeed, r.ClientSeed, r.Nonce)
	hash := HashServerSeed(r.ServerSeed)

	return models.VerificationResult{
		Reveal:        r,
		HashMatches:   subtle.ConstantTimeCompare([]byte(hash), []byte(r.ServerSeedHash)) == 1,
		ResultMatches: recomputed == r.Result,
		Recomputed:    recomputed,
	}
}
