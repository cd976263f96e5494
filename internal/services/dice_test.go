package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/fairness"
	"fairroll-backend/internal/models"
)

func TestCurrentDiceProvisionsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)
	require.True(t, first.IsActive())
	require.Equal(t, uint64(0), first.Nonce)
	require.Equal(t, fairness.HashServerSeed(first.ServerSeed), first.ServerSeedHash)
	require.NoError(t, models.ValidateClientSeed(first.ClientSeed))

	again, err := e.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, first.ServerSeedHash, again.ServerSeedHash)

	other, err := e.dice.CurrentDice(ctx, 2)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
}

func TestRotateSeed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dice, err := e.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)

	resp, err := e.dice.RotateSeed(ctx, dice.ID, 1)
	require.NoError(t, err)
	require.Equal(t, dice.ID, resp.DiceID)
	require.NotEqual(t, dice.ServerSeedHash, resp.ServerSeedHash)
	require.Equal(t, uint64(0), resp.Nonce)

	stored, err := e.redis.GetDice(ctx, dice.ID)
	require.NoError(t, err)
	require.Equal(t, resp.ServerSeedHash, stored.ServerSeedHash)
	require.Equal(t, fairness.HashServerSeed(stored.ServerSeed), stored.ServerSeedHash)

	_, err = e.dice.RotateSeed(ctx, dice.ID, 2)
	require.ErrorIs(t, err, apperr.ErrNotFound, "dice of another user")

	_, err = e.dice.RotateSeed(ctx, "missing", 1)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRotateSeedCompletedDice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	grant(t, e.redis, 1, 100)

	res, err := e.settlement.OpenCase(ctx, 1, models.CaseOpeningRequest{CaseID: "starter"})
	require.NoError(t, err)

	_, err = e.dice.RotateSeed(ctx, res.Dice.ID, 1)
	require.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestSetClientSeed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dice, err := e.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)

	updated, err := e.dice.SetClientSeed(ctx, dice.ID, 1, "lucky-seed")
	require.NoError(t, err)
	require.Equal(t, "lucky-seed", updated.ClientSeed)
	require.Equal(t, dice.ServerSeedHash, updated.ServerSeedHash)
	require.Equal(t, dice.Nonce, updated.Nonce)

	_, err = e.dice.SetClientSeed(ctx, dice.ID, 1, "has:colon")
	require.ErrorIs(t, err, apperr.ErrInvalidSeed)

	_, err = e.dice.SetClientSeed(ctx, dice.ID, 1, "")
	require.ErrorIs(t, err, apperr.ErrInvalidSeed)
}

func TestDiceMutationWhileLocked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dice, err := e.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)

	release, ok, err := e.redis.LockDice(ctx, dice.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = e.dice.RotateSeed(ctx, dice.ID, 1)
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = e.dice.SetClientSeed(ctx, dice.ID, 1, "other")
	require.ErrorIs(t, err, apperr.ErrConflict)

	stored, err := e.redis.GetDice(ctx, dice.ID)
	require.NoError(t, err)
	require.Equal(t, dice.ServerSeedHash, stored.ServerSeedHash)
	require.Equal(t, dice.ClientSeed, stored.ClientSeed)
}

func TestForeignDiceMutationSkipsLock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dice, err := e.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)

	release, ok, err := e.redis.LockDice(ctx, dice.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)

	// Ownership is settled before the lock, so a stranger sees not_found even
	// while the owner holds it.
	_, err = e.dice.RotateSeed(ctx, dice.ID, 2)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.dice.SetClientSeed(ctx, dice.ID, 2, "stranger")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	release()

	stored, err := e.redis.GetDice(ctx, dice.ID)
	require.NoError(t, err)
	require.Equal(t, dice.ServerSeedHash, stored.ServerSeedHash)
	require.Equal(t, dice.ClientSeed, stored.ClientSeed)
}

func TestVerify(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	grant(t, e.redis, 1, 100)

	active, err := e.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)

	_, err = e.dice.Verify(ctx, active.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidState, "an active dice keeps its seed secret")

	res, err := e.settlement.OpenCase(ctx, 1, models.CaseOpeningRequest{CaseID: "starter"})
	require.NoError(t, err)
	require.Equal(t, active.ID, res.Dice.ID)

	v, err := e.dice.Verify(ctx, active.ID)
	require.NoError(t, err)
	require.True(t, v.HashMatches)
	require.True(t, v.ResultMatches)
	require.Equal(t, active.ServerSeedHash, v.ServerSeedHash)
	require.Equal(t, res.Settlement.Result, v.Recomputed)

	_, err = e.dice.Verify(ctx, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
