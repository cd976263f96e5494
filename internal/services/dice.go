package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/fairness"
	"fairroll-backend/internal/lib/logger/sl"
	"fairroll-backend/internal/models"
)

const provisionAttempts = 3

// DiceService owns the seed commitment lifecycle outside of a roll: showing
// the commitment for the next roll, rotating the server seed, changing the
// client seed and revealing completed dice.
type DiceService struct {
	redis   *RedisService
	lockTTL time.Duration
	log     *slog.Logger
}

func NewDiceService(redis *RedisService, lockTTL time.Duration, log *slog.Logger) *DiceService {
	return &DiceService{
		redis:   redis,
		lockTTL: lockTTL,
		log:     log,
	}
}

// CurrentDice returns the user's active dice, provisioning one if the user
// has none. Only the hash of its server seed is meant to leave the service.
func (d *DiceService) CurrentDice(ctx context.Context, userID int64) (*models.Dice, error) {
	const op = "services.DiceService.CurrentDice"

	var (
		dice *models.Dice
		err  error
	)
	for i := 0; i < provisionAttempts; i++ {
		dice, err = d.provision(ctx, userID)
		if !errors.Is(err, ErrTxConflict) {
			break
		}
	}

	if errors.Is(err, ErrTxConflict) {
		return nil, apperr.Wrap(apperr.CodeConflict, op, err)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return dice, nil
}

func (d *DiceService) provision(ctx context.Context, userID int64) (*models.Dice, error) {
	var dice *models.Dice

	err := d.redis.RunTx(ctx, func(tx TxScope) error {
		id, err := tx.ActiveDiceID(userID)
		if err != nil {
			return err
		}

		if id != "" {
			current, err := tx.Dice(id)
			if err != nil {
				return err
			}
			if current.IsActive() {
				dice = current
				return nil
			}
		}

		fresh, err := fairness.NewDice(userID, "")
		if err != nil {
			return err
		}

		tx.PutDice(fresh)
		tx.SetActiveDice(userID, fresh.ID)
		dice = fresh
		return nil
	})

	return dice, err
}

// RotateSeed replaces the server seed of the user's active dice.
func (d *DiceService) RotateSeed(ctx context.Context, diceID string, userID int64) (*models.RotateSeedResponse, error) {
	const op = "services.DiceService.RotateSeed"

	var resp *models.RotateSeedResponse
	err := d.mutateActive(ctx, op, diceID, userID, func(dice *models.Dice) error {
		if err := fairness.RotateServerSeed(dice); err != nil {
			return err
		}
		resp = &models.RotateSeedResponse{
			DiceID:         dice.ID,
			ServerSeedHash: dice.ServerSeedHash,
			Nonce:          dice.Nonce,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("server seed rotated", sl.UserID(userID), slog.String("dice_id", diceID))
	return resp, nil
}

// SetClientSeed changes the client seed of the user's active dice.
func (d *DiceService) SetClientSeed(ctx context.Context, diceID string, userID int64, clientSeed string) (*models.Dice, error) {
	const op = "services.DiceService.SetClientSeed"

	if err := models.ValidateClientSeed(clientSeed); err != nil {
		return nil, apperr.E(apperr.CodeInvalidSeed, op, err.Error())
	}

	var updated *models.Dice
	err := d.mutateActive(ctx, op, diceID, userID, func(dice *models.Dice) error {
		if err := fairness.SetClientSeed(dice, clientSeed); err != nil {
			return err
		}
		updated = dice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// mutateActive applies fn to a dice the user owns while holding the dice lock,
// so it can never interleave with a settlement rolling the same dice. Only the
// owner ever takes the lock.
func (d *DiceService) mutateActive(ctx context.Context, op, diceID string, userID int64, fn func(*models.Dice) error) error {
	owned, err := d.redis.GetDice(ctx, diceID)
	if err != nil {
		return classify(op, err)
	}
	if owned.UserID != userID {
		return apperr.E(apperr.CodeNotFound, op, "dice "+diceID+" not found")
	}

	release, ok, err := d.redis.LockDice(ctx, diceID, d.lockTTL)
	if err != nil {
		return classify(op, err)
	}
	if !ok {
		return apperr.E(apperr.CodeConflict, op, "dice "+diceID+" is being rolled")
	}
	defer release()

	err = d.redis.RunTx(ctx, func(tx TxScope) error {
		dice, err := tx.Dice(diceID)
		if err != nil {
			return err
		}
		if dice.UserID != userID {
			return apperr.E(apperr.CodeNotFound, op, "dice "+diceID+" not found")
		}
		if err := fn(dice); err != nil {
			return err
		}
		tx.PutDice(dice)
		return nil
	})

	if errors.Is(err, ErrTxConflict) {
		return apperr.Wrap(apperr.CodeConflict, op, err)
	}
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// Verify reveals a completed dice and recomputes its roll. It is public: the
// inputs of a completed roll are no longer secret.
func (d *DiceService) Verify(ctx context.Context, diceID string) (*models.VerificationResult, error) {
	const op = "services.DiceService.Verify"

	dice, err := d.redis.GetDice(ctx, diceID)
	if err != nil {
		return nil, classify(op, err)
	}

	reveal, err := fairness.Reveal(dice)
	if err != nil {
		return nil, err
	}

	result := fairness.Verify(reveal)
	if !result.HashMatches || !result.ResultMatches {
		d.log.Error("stored dice fails verification",
			slog.String("dice_id", diceID),
			slog.Bool("hash_matches", result.HashMatches),
			slog.Bool("result_matches", result.ResultMatches))
	}
	return &result, nil
}

// classify passes classified errors through and wraps everything else as an
// internal failure, so no raw storage error leaves the service layer.
func classify(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeSettlementTimeout, op, err)
	}
	return apperr.Wrap(apperr.CodeInternal, op, fmt.Errorf("unexpected: %w", err))
}
