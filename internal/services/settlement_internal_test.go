package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/models"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *capturedEvents) Enqueue(_ context.Context, events ...models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *capturedEvents) types() []models.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func newSettlementService(t *testing.T, maxRetries uint) (*SettlementService, *capturedEvents) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rs := NewRedisServiceFromClient(client, log)
	catalog := NewCatalogService(rs, log)
	events := &capturedEvents{}

	ctx := context.Background()
	require.NoError(t, catalog.PutItem(ctx, &models.Item{ID: "knife", Name: "Knife", Value: decimal.NewFromInt(100)}))
	require.NoError(t, catalog.PutItem(ctx, &models.Item{ID: "gloves", Name: "Gloves", Value: decimal.NewFromInt(40)}))
	require.NoError(t, catalog.PutCase(ctx, &models.Case{
		ID:    "starter",
		Price: decimal.NewFromInt(10),
		Items: []models.CaseItem{
			{ItemID: "knife", Odd: decimal.NewFromInt(60)},
			{ItemID: "gloves", Odd: decimal.NewFromInt(40)},
		},
	}))

	s := NewSettlementService(rs, catalog, NewDiceService(rs, 3*time.Second, log), events, SettlementOptions{
		HouseEdge:  decimal.NewFromInt(5),
		Timeout:    3 * time.Second,
		MaxRetries: maxRetries,
	}, log)
	return s, events
}

// touchWallet rewrites the wallet with its own bytes from another connection.
// The balance is unchanged but every transaction watching the key fails.
func touchWallet(t *testing.T, rs *RedisService, userID int64) {
	t.Helper()
	ctx := context.Background()
	key := fmt.Sprintf(KeyWallet, userID)

	data, err := rs.client.Get(ctx, key).Bytes()
	require.NoError(t, err)
	require.NoError(t, rs.client.Set(ctx, key, data, 0).Err())
}

// contended wraps apply so that its first n runs lose the race for the wallet.
func contended(t *testing.T, rs *RedisService, userID int64, n int, calls *int, apply applyFunc) applyFunc {
	return func(tx TxScope, st *models.Settlement, w *models.Wallet, roll models.Roll) ([]models.Event, error) {
		*calls++
		if *calls <= n {
			touchWallet(t, rs, userID)
		}
		return apply(tx, st, w, roll)
	}
}

func TestSettleRetriesExhausted(t *testing.T) {
	s, events := newSettlementService(t, 3)
	ctx := context.Background()

	_, err := s.redis.GrantBalance(ctx, 1, decimal.NewFromInt(100))
	require.NoError(t, err)
	before, err := s.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)

	calls := 0
	_, err = s.settle(ctx, settleParams{
		op:           "test.settle",
		kind:         models.SettlementKindCaseOpening,
		userID:       1,
		settlementID: "contended",
		apply:        contended(t, s.redis, 1, 100, &calls, s.applyCaseOpening("starter")),
	})
	require.ErrorIs(t, err, apperr.ErrSettlementFailed)
	require.Equal(t, apperr.ClassTryAgain, apperr.ClassOf(apperr.CodeOf(err)))
	require.Equal(t, 3, calls, "one run per allowed try")

	w, err := s.redis.GetWallet(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "100", w.Balance.String())
	require.Empty(t, w.Inventory)

	dice, err := s.redis.GetDice(ctx, before.ID)
	require.NoError(t, err)
	require.True(t, dice.IsActive())
	require.Nil(t, dice.Result)

	activeID, err := s.redis.ActiveDiceID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, before.ID, activeID)

	_, err = s.redis.GetSettlement(ctx, "contended")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Empty(t, events.types())

	// The lock was released, so the next roll goes through.
	_, err = s.OpenCase(ctx, 1, models.CaseOpeningRequest{CaseID: "starter"})
	require.NoError(t, err)
}

func TestSettleRetriesConflict(t *testing.T) {
	s, events := newSettlementService(t, 5)
	ctx := context.Background()

	_, err := s.redis.GrantBalance(ctx, 1, decimal.NewFromInt(100))
	require.NoError(t, err)
	before, err := s.dice.CurrentDice(ctx, 1)
	require.NoError(t, err)

	calls := 0
	res, err := s.settle(ctx, settleParams{
		op:           "test.settle",
		kind:         models.SettlementKindCaseOpening,
		userID:       1,
		settlementID: "second-try",
		apply:        contended(t, s.redis, 1, 1, &calls, s.applyCaseOpening("starter")),
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, before.ID, res.Dice.ID)

	w, err := s.redis.GetWallet(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "90", w.Balance.String(), "debited once across both runs")
	require.Len(t, w.Inventory, 1)

	dice, err := s.redis.GetDice(ctx, before.ID)
	require.NoError(t, err)
	require.False(t, dice.IsActive())

	require.Equal(t, []models.EventType{models.EventBalanceChanged, models.EventItemWon}, events.types())
}

func TestApplyUpgradeOutcomes(t *testing.T) {
	// Two gloves (80) towards a knife (100) at 5% edge: win chance 76.00000.
	// Up wins from 24.00000, Down wins up to 76.00000.
	cases := []struct {
		name string
		dir  models.Direction
		roll models.Roll
		won  bool
	}{
		{name: "up below threshold", dir: models.DirectionUp, roll: 0, won: false},
		{name: "up just below threshold", dir: models.DirectionUp, roll: 2_399_999, won: false},
		{name: "up at threshold", dir: models.DirectionUp, roll: 2_400_000, won: true},
		{name: "down at chance", dir: models.DirectionDown, roll: 7_600_000, won: true},
		{name: "down above chance", dir: models.DirectionDown, roll: 7_600_001, won: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newSettlementService(t, 1)
			ctx := context.Background()

			g1, err := s.redis.GrantItem(ctx, 1, "gloves")
			require.NoError(t, err)
			g2, err := s.redis.GrantItem(ctx, 1, "gloves")
			require.NoError(t, err)

			req := models.UpgradeRequest{
				SourceItemIDs: []string{g1.ID, g2.ID},
				TargetItemIDs: []string{"knife"},
				Direction:     tc.dir,
			}
			st := &models.Settlement{ID: "stl_upgrade", Kind: models.SettlementKindUpgrade, UserID: 1, CreatedAt: time.Now().UTC()}

			var events []models.Event
			err = s.redis.RunTx(ctx, func(tx TxScope) error {
				w, err := tx.Wallet(1)
				if err != nil {
					return err
				}
				events, err = s.applyUpgrade(req)(tx, st, w, tc.roll)
				if err != nil {
					return err
				}
				tx.PutWallet(w)
				return nil
			})
			require.NoError(t, err)

			require.Equal(t, "76.00000", st.Upgrade.WinChance.String())
			require.Equal(t, tc.won, st.Upgrade.Won)

			w, err := s.redis.GetWallet(ctx, 1)
			require.NoError(t, err)
			_, owned := w.FindItems([]string{g1.ID})
			require.False(t, owned, "sources are consumed")
			_, owned = w.FindItems([]string{g2.ID})
			require.False(t, owned, "sources are consumed")

			last := events[len(events)-1]
			require.Equal(t, models.EventUpgradeResolved, last.Type)
			require.Equal(t, tc.won, last.Payload["won"])

			if tc.won {
				require.Len(t, w.Inventory, 1)
				require.Equal(t, "knife", w.Inventory[0].ItemID)
				require.Equal(t, []string{w.Inventory[0].ID}, st.Upgrade.InventoryItemIDs)
				require.Len(t, events, 2)
				require.Equal(t, models.EventItemWon, events[0].Type)
				return
			}

			require.Empty(t, w.Inventory)
			require.Empty(t, st.Upgrade.InventoryItemIDs)
			require.Len(t, events, 1)
		})
	}
}
