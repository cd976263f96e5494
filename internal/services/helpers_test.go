package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fairroll-backend/internal/models"
	"fairroll-backend/internal/services"
)

type env struct {
	mr         *miniredis.Miniredis
	redis      *services.RedisService
	catalog    *services.CatalogService
	dice       *services.DiceService
	events     *recorder
	settlement *services.SettlementService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *services.RedisService) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, services.NewRedisServiceFromClient(client, discardLogger())
}

func newEnv(t *testing.T) *env {
	return newEnvWith(t, services.SettlementOptions{
		HouseEdge:  decimal.NewFromInt(5),
		Timeout:    3 * time.Second,
		LockTTL:    3 * time.Second,
		MaxRetries: 5,
	})
}

func newEnvWith(t *testing.T, opts services.SettlementOptions) *env {
	t.Helper()

	mr, rs := newRedis(t)
	log := discardLogger()

	e := &env{
		mr:      mr,
		redis:   rs,
		catalog: services.NewCatalogService(rs, log),
		dice:    services.NewDiceService(rs, opts.LockTTL, log),
		events:  &recorder{},
	}
	e.settlement = services.NewSettlementService(rs, e.catalog, e.dice, e.events, opts, log)

	seedCatalog(t, e.catalog)
	return e
}

// seedCatalog stores two items and a case over them:
// case "starter" (price 10): knife 60%, gloves 40%.
func seedCatalog(t *testing.T, catalog *services.CatalogService) {
	t.Helper()
	ctx := context.Background()

	for _, it := range []*models.Item{
		{ID: "knife", Name: "Knife", Value: decimal.NewFromInt(100)},
		{ID: "gloves", Name: "Gloves", Value: decimal.NewFromInt(40)},
		{ID: "sticker", Name: "Sticker", Value: decimal.NewFromInt(5)},
	} {
		require.NoError(t, catalog.PutItem(ctx, it))
	}

	require.NoError(t, catalog.PutCase(ctx, &models.Case{
		ID:    "starter",
		Name:  "Starter",
		Price: decimal.NewFromInt(10),
		Items: []models.CaseItem{
			{ItemID: "knife", Odd: decimal.NewFromInt(60)},
			{ItemID: "gloves", Odd: decimal.NewFromInt(40)},
		},
	}))
}

// recorder is an EventPublisher that keeps what it was given.
type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Enqueue(_ context.Context, events ...models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recorder) snapshot() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func (r *recorder) ofType(t models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range r.snapshot() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func grant(t *testing.T, rs *services.RedisService, userID int64, amount int64) {
	t.Helper()
	_, err := rs.GrantBalance(context.Background(), userID, decimal.NewFromInt(amount))
	require.NoError(t, err)
}

func wallet(t *testing.T, rs *services.RedisService, userID int64) *models.Wallet {
	t.Helper()
	w, err := rs.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w
}
