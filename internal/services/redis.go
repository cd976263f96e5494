package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/config"
	"fairroll-backend/internal/lib/logger/sl"
	"fairroll-backend/internal/models"
)

type RedisService struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisService(cfg *config.Config, log *slog.Logger) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisServiceFromClient(client, log), nil
}

func NewRedisServiceFromClient(client *redis.Client, log *slog.Logger) *RedisService {
	return &RedisService{
		client: client,
		log:    log,
	}
}

func (s *RedisService) Client() *redis.Client {
	return s.client
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func getJSON(ctx context.Context, c redis.Cmdable, key string, v any) (bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisService) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	const op = "services.RedisService.GetWallet"

	wallet := models.NewWallet(userID)
	if _, err := getJSON(ctx, s.client, fmt.Sprintf(KeyWallet, userID), wallet); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return wallet, nil
}

func (s *RedisService) GetDice(ctx context.Context, diceID string) (*models.Dice, error) {
	const op = "services.RedisService.GetDice"

	var dice models.Dice
	found, err := getJSON(ctx, s.client, fmt.Sprintf(KeyDice, diceID), &dice)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, apperr.E(apperr.CodeNotFound, op, "dice "+diceID+" not found")
	}
	return &dice, nil
}

// ActiveDiceID returns the id of the user's active dice, or "" when none has
// been provisioned yet.
func (s *RedisService) ActiveDiceID(ctx context.Context, userID int64) (string, error) {
	const op = "services.RedisService.ActiveDiceID"

	id, err := s.client.Get(ctx, fmt.Sprintf(KeyUserActiveDice, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (s *RedisService) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	const op = "services.RedisService.GetSettlement"

	var settlement models.Settlement
	found, err := getJSON(ctx, s.client, fmt.Sprintf(KeySettlement, settlementID), &settlement)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, apperr.E(apperr.CodeNotFound, op, "settlement "+settlementID+" not found")
	}
	return &settlement, nil
}

func (s *RedisService) GetUserSettlements(ctx context.Context, userID int64, limit int64) ([]*models.Settlement, error) {
	const op = "services.RedisService.GetUserSettlements"

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserSettlements, userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	settlements := make([]*models.Settlement, 0, len(ids))
	for _, id := range ids {
		settlement, err := s.GetSettlement(ctx, id)
		if err != nil {
			s.log.Warn("settlement index points at missing record",
				sl.Op(op), slog.String("settlement_id", id))
			continue
		}
		settlements = append(settlements, settlement)
	}

	return settlements, nil
}

// GrantBalance credits a wallet outside any settlement. It stands in for the
// account collaborator's deposit primitive and is used for seeding.
func (s *RedisService) GrantBalance(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Wallet, error) {
	const op = "services.RedisService.GrantBalance"

	if !amount.IsPositive() {
		return nil, apperr.E(apperr.CodeInvalidRequest, op, "amount must be positive")
	}

	var wallet *models.Wallet
	err := s.RunTx(ctx, func(tx TxScope) error {
		w, err := tx.Wallet(userID)
		if err != nil {
			return err
		}
		w.Credit(amount)
		w.UpdatedAt = time.Now().UTC()
		tx.PutWallet(w)
		wallet = w
		return nil
	}, fmt.Sprintf(KeyWallet, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return wallet, nil
}

// GrantItem puts a catalog item into a wallet outside any settlement. Seeding
// only, like GrantBalance.
func (s *RedisService) GrantItem(ctx context.Context, userID int64, itemID string) (*models.InventoryItem, error) {
	const op = "services.RedisService.GrantItem"

	var granted models.InventoryItem
	err := s.RunTx(ctx, func(tx TxScope) error {
		items, err := tx.Items([]string{itemID})
		if err != nil {
			return err
		}
		w, err := tx.Wallet(userID)
		if err != nil {
			return err
		}
		granted = models.InventoryItem{
			ID:         models.GenerateInventoryItemID(),
			ItemID:     itemID,
			Value:      items[0].Value,
			Source:     "grant",
			AcquiredAt: time.Now().UTC(),
		}
		w.Inventory = append(w.Inventory, granted)
		w.UpdatedAt = granted.AcquiredAt
		tx.PutWallet(w)
		return nil
	}, fmt.Sprintf(KeyWallet, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &granted, nil
}

var releaseLockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// LockDice takes the exclusive in-flight lock of a dice. It reports false,
// without waiting, when another attempt holds it.
func (s *RedisService) LockDice(ctx context.Context, diceID string, ttl time.Duration) (func(), bool, error) {
	const op = "services.RedisService.LockDice"

	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	token, err := lockToken()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	key := fmt.Sprintf(KeyDiceLock, diceID)
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The caller's context may already be expired; the release still has
		// to reach Redis.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseLockScript.Run(rctx, s.client, []string{key}, token).Err(); err != nil {
			s.log.Error("failed to release dice lock",
				sl.Op(op), slog.String("dice_id", diceID), sl.Err(err))
		}
	}

	return release, true, nil
}

func lockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
