package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/models"
)

// ErrTxConflict reports that a watched key changed before EXEC. The whole
// transaction function may be retried.
var ErrTxConflict = errors.New("transaction conflict")

// TxScope is one optimistic transaction over wallets, dice, settlements and
// the catalog. Reads WATCH their key; writes are staged and only reach Redis
// in a single MULTI/EXEC when the transaction function returns nil. Returning
// an error discards every staged write.
type TxScope interface {
	Wallet(userID int64) (*models.Wallet, error)
	Dice(diceID string) (*models.Dice, error)
	ActiveDiceID(userID int64) (string, error)
	Settlement(settlementID string) (*models.Settlement, error)
	Case(caseID string) (*models.Case, error)
	Items(itemIDs []string) ([]*models.Item, error)

	PutWallet(w *models.Wallet)
	PutDice(d *models.Dice)
	SetActiveDice(userID int64, diceID string)
	PutSettlement(s *models.Settlement)
}

type redisTx struct {
	ctx    context.Context
	tx     *redis.Tx
	writes []func(pipe redis.Pipeliner)
	err    error
}

// RunTx runs fn inside a WATCH/MULTI/EXEC transaction. Keys read through the
// scope are watched as they are read; watch adds keys up front. A concurrent
// change to any watched key yields ErrTxConflict and nothing is written.
func (s *RedisService) RunTx(ctx context.Context, fn func(tx TxScope) error, watch ...string) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		scope := &redisTx{ctx: ctx, tx: tx}

		if err := fn(scope); err != nil {
			return err
		}
		if scope.err != nil {
			return scope.err
		}

		if len(scope.writes) == 0 {
			return nil
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range scope.writes {
				w(pipe)
			}
			return nil
		})
		return err
	}, watch...)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrTxConflict
	}
	return err
}

func (t *redisTx) get(key string, v any) (bool, error) {
	if err := t.tx.Watch(t.ctx, key).Err(); err != nil {
		return false, err
	}
	return getJSON(t.ctx, t.tx, key, v)
}

// set stages v as it is now; later changes to v are not written.
func (t *redisTx) set(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		t.err = errors.Join(t.err, fmt.Errorf("marshal %s: %w", key, err))
		return
	}
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.Set(t.ctx, key, data, 0)
	})
}

func (t *redisTx) Wallet(userID int64) (*models.Wallet, error) {
	wallet := models.NewWallet(userID)
	if _, err := t.get(fmt.Sprintf(KeyWallet, userID), wallet); err != nil {
		return nil, fmt.Errorf("load wallet %d: %w", userID, err)
	}
	return wallet, nil
}

func (t *redisTx) Dice(diceID string) (*models.Dice, error) {
	const op = "services.TxScope.Dice"

	var dice models.Dice
	found, err := t.get(fmt.Sprintf(KeyDice, diceID), &dice)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, apperr.E(apperr.CodeNotFound, op, "dice "+diceID+" not found")
	}
	return &dice, nil
}

func (t *redisTx) ActiveDiceID(userID int64) (string, error) {
	key := fmt.Sprintf(KeyUserActiveDice, userID)
	if err := t.tx.Watch(t.ctx, key).Err(); err != nil {
		return "", err
	}

	id, err := t.tx.Get(t.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load active dice of %d: %w", userID, err)
	}
	return id, nil
}

// Settlement returns nil, nil when no record exists yet.
func (t *redisTx) Settlement(settlementID string) (*models.Settlement, error) {
	var settlement models.Settlement
	found, err := t.get(fmt.Sprintf(KeySettlement, settlementID), &settlement)
	if err != nil {
		return nil, fmt.Errorf("load settlement %s: %w", settlementID, err)
	}
	if !found {
		return nil, nil
	}
	return &settlement, nil
}

func (t *redisTx) Case(caseID string) (*models.Case, error) {
	const op = "services.TxScope.Case"

	var c models.Case
	found, err := t.get(fmt.Sprintf(KeyCase, caseID), &c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, apperr.E(apperr.CodeNotFound, op, "case "+caseID+" not found")
	}
	return &c, nil
}

func (t *redisTx) Items(itemIDs []string) ([]*models.Item, error) {
	const op = "services.TxScope.Items"

	items := make([]*models.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		var item models.Item
		found, err := t.get(fmt.Sprintf(KeyItem, id), &item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !found {
			return nil, apperr.E(apperr.CodeNotFound, op, "item "+id+" not found")
		}
		items = append(items, &item)
	}
	return items, nil
}

func (t *redisTx) PutWallet(w *models.Wallet) {
	t.set(fmt.Sprintf(KeyWallet, w.UserID), w)
}

func (t *redisTx) PutDice(d *models.Dice) {
	t.set(fmt.Sprintf(KeyDice, d.ID), d)
}

func (t *redisTx) SetActiveDice(userID int64, diceID string) {
	key := fmt.Sprintf(KeyUserActiveDice, userID)
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.Set(t.ctx, key, diceID, 0)
	})
}

func (t *redisTx) PutSettlement(s *models.Settlement) {
	t.set(fmt.Sprintf(KeySettlement, s.ID), s)

	indexKey := fmt.Sprintf(KeyUserSettlements, s.UserID)
	member := redis.Z{
		Score:  float64(s.SettledAt.UnixMilli()),
		Member: s.ID,
	}
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.ZAdd(t.ctx, indexKey, member)
		pipe.ZRemRangeByRank(t.ctx, indexKey, 0, -MaxUserSettlementHistory-1)
	})
}
