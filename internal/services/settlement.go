package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/config"
	"fairroll-backend/internal/fairness"
	"fairroll-backend/internal/lib/logger/sl"
	"fairroll-backend/internal/models"
)

// EventPublisher accepts events for delivery after a settlement committed.
type EventPublisher interface {
	Enqueue(ctx context.Context, events ...models.Event) error
}

type SettlementOptions struct {
	HouseEdge  decimal.Decimal
	Timeout    time.Duration
	LockTTL    time.Duration
	MaxRetries uint
}

func SettlementOptionsFromConfig(cfg *config.Config) SettlementOptions {
	return SettlementOptions{
		HouseEdge:  cfg.HouseEdge,
		Timeout:    cfg.SettlementTimeout,
		LockTTL:    cfg.LockTTL,
		MaxRetries: cfg.MaxRetries,
	}
}

// SettlementService applies one roll to a user's balance and inventory
// atomically. A request id settles at most once: repeating it returns the
// stored outcome instead of rolling again.
type SettlementService struct {
	redis   *RedisService
	catalog *CatalogService
	dice    *DiceService
	events  EventPublisher
	opts    SettlementOptions
	log     *slog.Logger
}

func NewSettlementService(
	redis *RedisService,
	catalog *CatalogService,
	dice *DiceService,
	events EventPublisher,
	opts SettlementOptions,
	log *slog.Logger,
) *SettlementService {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	if opts.LockTTL < opts.Timeout {
		opts.LockTTL = opts.Timeout
	}

	return &SettlementService{
		redis:   redis,
		catalog: catalog,
		dice:    dice,
		events:  events,
		opts:    opts,
		log:     log,
	}
}

// applyFunc resolves the roll for one settlement kind and mutates the wallet.
// It runs inside the transaction; returning an error discards every write.
type applyFunc func(tx TxScope, st *models.Settlement, wallet *models.Wallet, roll models.Roll) ([]models.Event, error)

type settleParams struct {
	op           string
	kind         models.SettlementKind
	userID       int64
	settlementID string
	clientSeed   string
	apply        applyFunc
}

type outcome struct {
	result   *models.SettlementResult
	events   []models.Event
	replayed bool
}

func (s *SettlementService) CreateRoll(ctx context.Context, userID int64, req *models.RollRequest) (*models.SettlementResult, error) {
	const op = "services.SettlementService.CreateRoll"

	if err := req.Validate(); err != nil {
		return nil, apperr.E(apperr.CodeInvalidRequest, op, err.Error())
	}

	switch req.Kind {
	case models.SettlementKindCaseOpening:
		return s.OpenCase(ctx, userID, *req.CaseOpening)
	default:
		return s.Upgrade(ctx, userID, *req.Upgrade)
	}
}

func (s *SettlementService) OpenCase(ctx context.Context, userID int64, req models.CaseOpeningRequest) (*models.SettlementResult, error) {
	const op = "services.SettlementService.OpenCase"

	if err := req.Validate(); err != nil {
		return nil, apperr.E(apperr.CodeInvalidRequest, op, err.Error())
	}
	if err := validateOptionalSeed(op, req.ClientSeed); err != nil {
		return nil, err
	}

	cs, err := s.catalog.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, classify(op, err)
	}
	if _, err := fairness.CompileCase(cs); err != nil {
		s.log.Error("case has invalid odds", sl.Op(op), slog.String("case_id", cs.ID), sl.Err(err))
		return nil, err
	}

	return s.settle(ctx, settleParams{
		op:           op,
		kind:         models.SettlementKindCaseOpening,
		userID:       userID,
		settlementID: requestID(req.RequestID),
		clientSeed:   req.ClientSeed,
		apply:        s.applyCaseOpening(req.CaseID),
	})
}

func (s *SettlementService) Upgrade(ctx context.Context, userID int64, req models.UpgradeRequest) (*models.SettlementResult, error) {
	const op = "services.SettlementService.Upgrade"

	if err := req.Validate(); err != nil {
		return nil, apperr.E(apperr.CodeInvalidRequest, op, err.Error())
	}
	if err := validateOptionalSeed(op, req.ClientSeed); err != nil {
		return nil, err
	}

	settlementID := requestID(req.RequestID)
	if err := s.precheckUpgrade(ctx, userID, settlementID, req); err != nil {
		return nil, err
	}

	return s.settle(ctx, settleParams{
		op:           op,
		kind:         models.SettlementKindUpgrade,
		userID:       userID,
		settlementID: settlementID,
		clientSeed:   req.ClientSeed,
		apply:        s.applyUpgrade(req),
	})
}

// precheckUpgrade rejects upgrades that cannot succeed before any transaction
// is opened. The transaction repeats every check against watched state.
// A request id that already settled skips the checks so it can be replayed.
func (s *SettlementService) precheckUpgrade(ctx context.Context, userID int64, settlementID string, req models.UpgradeRequest) error {
	const op = "services.SettlementService.precheckUpgrade"

	if _, err := s.redis.GetSettlement(ctx, settlementID); err == nil {
		return nil
	}

	wallet, err := s.redis.GetWallet(ctx, userID)
	if err != nil {
		return classify(op, err)
	}

	sources, ok := wallet.FindItems(req.SourceItemIDs)
	if !ok {
		return apperr.E(apperr.CodeInvalidUpgrade, op, "source items are not owned")
	}

	sourceValue := decimal.Zero
	for _, src := range sources {
		item, err := s.catalog.GetItem(ctx, src.ItemID)
		if err != nil {
			return classify(op, err)
		}
		sourceValue = sourceValue.Add(item.Value)
	}

	targetValue := decimal.Zero
	for _, id := range req.TargetItemIDs {
		item, err := s.catalog.GetItem(ctx, id)
		if err != nil {
			return classify(op, err)
		}
		targetValue = targetValue.Add(item.Value)
	}

	_, _, err = fairness.UpgradeWinChance(sourceValue, targetValue, s.opts.HouseEdge)
	return err
}

func (s *SettlementService) settle(ctx context.Context, p settleParams) (*models.SettlementResult, error) {
	if res, ok, err := s.replay(ctx, p); err != nil || ok {
		return res, err
	}

	dice, err := s.dice.CurrentDice(ctx, p.userID)
	if err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	release, locked, err := s.redis.LockDice(tctx, dice.ID, s.opts.LockTTL)
	if err != nil {
		return nil, s.fail(tctx, p, err)
	}
	if !locked {
		return nil, apperr.E(apperr.CodeConflict, p.op, "dice "+dice.ID+" is already being rolled")
	}
	defer release()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	out, err := backoff.Retry(tctx, func() (*outcome, error) {
		o, err := s.attempt(tctx, p, dice.ID)
		if errors.Is(err, ErrTxConflict) {
			s.log.Debug("settlement transaction conflict, retrying", sl.Op(p.op), sl.UserID(p.userID))
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return o, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.opts.MaxRetries))
	if err != nil {
		return nil, s.fail(tctx, p, err)
	}

	if out.replayed {
		return out.result, nil
	}

	s.log.Info("settlement committed",
		sl.Op(p.op),
		sl.UserID(p.userID),
		slog.String("settlement_id", out.result.Settlement.ID),
		slog.String("dice_id", out.result.Dice.ID),
		slog.String("roll", out.result.Settlement.Result.String()))

	// Only committed outcomes are announced. A failed enqueue does not undo
	// the settlement.
	if err := s.events.Enqueue(ctx, out.events...); err != nil {
		s.log.Warn("failed to enqueue settlement events",
			sl.Op(p.op), slog.String("settlement_id", out.result.Settlement.ID), sl.Err(err))
	}

	return out.result, nil
}

// replay returns the stored result when the request id already settled.
func (s *SettlementService) replay(ctx context.Context, p settleParams) (*models.SettlementResult, bool, error) {
	existing, err := s.redis.GetSettlement(ctx, p.settlementID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(p.op, err)
	}

	res, err := replayResult(p, existing)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func replayResult(p settleParams, existing *models.Settlement) (*models.SettlementResult, error) {
	if existing.UserID != p.userID || existing.Kind != p.kind {
		return nil, apperr.E(apperr.CodeInvalidRequest, p.op, "request_id "+p.settlementID+" was used for another roll")
	}
	if !existing.IsSettled() {
		return nil, apperr.E(apperr.CodeInvalidState, p.op, "settlement "+existing.ID+" is "+string(existing.Status))
	}

	result := existing.Result
	return &models.SettlementResult{
		Settlement: existing,
		Dice: models.PublicDice{
			ID:             existing.DiceID,
			ServerSeedHash: existing.ServerSeedHash,
			ServerSeed:     existing.ServerSeed,
			ClientSeed:     existing.ClientSeed,
			Nonce:          existing.Nonce,
			Status:         models.DiceStatusCompleted,
			Result:         &result,
		},
		Replayed: true,
	}, nil
}

// attempt is one pass through the transaction scope. Any error leaves Redis
// untouched.
func (s *SettlementService) attempt(ctx context.Context, p settleParams, diceID string) (*outcome, error) {
	var out *outcome

	err := s.redis.RunTx(ctx, func(tx TxScope) error {
		out = nil

		existing, err := tx.Settlement(p.settlementID)
		if err != nil {
			return err
		}
		if existing != nil {
			res, err := replayResult(p, existing)
			if err != nil {
				return err
			}
			out = &outcome{result: res, replayed: true}
			return nil
		}

		activeID, err := tx.ActiveDiceID(p.userID)
		if err != nil {
			return err
		}
		if activeID != diceID {
			return apperr.E(apperr.CodeConflict, p.op, "dice "+diceID+" is no longer the active dice")
		}

		dice, err := tx.Dice(diceID)
		if err != nil {
			return err
		}
		if !dice.IsActive() {
			return apperr.E(apperr.CodeConflict, p.op, "dice "+diceID+" was already rolled")
		}
		if p.clientSeed != "" && p.clientSeed != dice.ClientSeed {
			if err := fairness.SetClientSeed(dice, p.clientSeed); err != nil {
				return err
			}
		}

		wallet, err := tx.Wallet(p.userID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		st := &models.Settlement{
			ID:        p.settlementID,
			Kind:      p.kind,
			UserID:    p.userID,
			Status:    models.SettlementStatusRequested,
			DiceID:    dice.ID,
			CreatedAt: now,
		}
		if err := st.Transition(models.SettlementStatusResolving); err != nil {
			return err
		}

		roll, err := fairness.Complete(dice)
		if err != nil {
			return err
		}

		events, err := p.apply(tx, st, wallet, roll)
		if err != nil {
			return err
		}

		st.ServerSeed = dice.ServerSeed
		st.ServerSeedHash = dice.ServerSeedHash
		st.ClientSeed = dice.ClientSeed
		st.Nonce = dice.Nonce
		st.Result = roll
		st.BalanceAfter = wallet.Balance
		st.SettledAt = now
		if err := st.Transition(models.SettlementStatusSettled); err != nil {
			return err
		}

		next, err := fairness.NextDice(dice)
		if err != nil {
			return err
		}

		wallet.UpdatedAt = now
		tx.PutWallet(wallet)
		tx.PutDice(dice)
		tx.PutDice(next)
		tx.SetActiveDice(p.userID, next.ID)
		tx.PutSettlement(st)

		nextPublic := next.Public()
		out = &outcome{
			result: &models.SettlementResult{
				Settlement: st,
				Dice:       dice.Public(),
				NextDice:   &nextPublic,
			},
			events: events,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SettlementService) applyCaseOpening(caseID string) applyFunc {
	return func(tx TxScope, st *models.Settlement, wallet *models.Wallet, roll models.Roll) ([]models.Event, error) {
		const op = "services.SettlementService.applyCaseOpening"

		cs, err := tx.Case(caseID)
		if err != nil {
			return nil, err
		}

		table, err := fairness.CompileCase(cs)
		if err != nil {
			return nil, err
		}

		itemID, err := table.Resolve(roll)
		if err != nil {
			return nil, err
		}

		items, err := tx.Items([]string{itemID})
		if err != nil {
			return nil, err
		}
		won := items[0]

		if !wallet.Debit(cs.Price) {
			return nil, apperr.E(apperr.CodeInsufficientBalance, op,
				fmt.Sprintf("balance %s does not cover price %s", wallet.Balance, cs.Price))
		}

		inv := models.InventoryItem{
			ID:         models.GenerateInventoryItemID(),
			ItemID:     won.ID,
			Value:      won.Value,
			Source:     "case:" + cs.ID,
			AcquiredAt: st.CreatedAt,
		}
		wallet.AddItem(inv)

		st.Case = &models.CaseOutcome{
			CaseID:          cs.ID,
			Price:           cs.Price,
			WonItemID:       won.ID,
			WonItemValue:    won.Value,
			InventoryItemID: inv.ID,
		}

		return []models.Event{
			newEvent(models.EventBalanceChanged, wallet.UserID, map[string]any{
				"balance":       wallet.Balance.String(),
				"delta":         cs.Price.Neg().String(),
				"settlement_id": st.ID,
			}),
			newEvent(models.EventItemWon, wallet.UserID, map[string]any{
				"item_id":           won.ID,
				"item_name":         won.Name,
				"value":             won.Value.String(),
				"inventory_item_id": inv.ID,
				"case_id":           cs.ID,
				"roll":              roll.String(),
				"settlement_id":     st.ID,
			}),
		}, nil
	}
}

func (s *SettlementService) applyUpgrade(req models.UpgradeRequest) applyFunc {
	return func(tx TxScope, st *models.Settlement, wallet *models.Wallet, roll models.Roll) ([]models.Event, error) {
		const op = "services.SettlementService.applyUpgrade"

		sources, ok := wallet.FindItems(req.SourceItemIDs)
		if !ok {
			return nil, apperr.E(apperr.CodeInvalidUpgrade, op, "source items are not owned")
		}

		sourceIDs := make([]string, len(sources))
		for i, src := range sources {
			sourceIDs[i] = src.ItemID
		}
		sourceItems, err := tx.Items(sourceIDs)
		if err != nil {
			return nil, err
		}
		targets, err := tx.Items(req.TargetItemIDs)
		if err != nil {
			return nil, err
		}

		multiplier, chance, err := fairness.UpgradeWinChance(sumValues(sourceItems), sumValues(targets), s.opts.HouseEdge)
		if err != nil {
			return nil, err
		}

		won := fairness.ResolveThreshold(roll, chance, req.Direction)

		wallet.RemoveItems(req.SourceItemIDs)

		var newIDs []string
		events := make([]models.Event, 0, len(targets)+1)
		if won {
			for _, target := range targets {
				inv := models.InventoryItem{
					ID:         models.GenerateInventoryItemID(),
					ItemID:     target.ID,
					Value:      target.Value,
					Source:     "upgrade:" + st.ID,
					AcquiredAt: st.CreatedAt,
				}
				wallet.AddItem(inv)
				newIDs = append(newIDs, inv.ID)

				events = append(events, newEvent(models.EventItemWon, wallet.UserID, map[string]any{
					"item_id":           target.ID,
					"item_name":         target.Name,
					"value":             target.Value.String(),
					"inventory_item_id": inv.ID,
					"roll":              roll.String(),
					"settlement_id":     st.ID,
				}))
			}
		}

		st.Upgrade = &models.UpgradeOutcome{
			SourceItems:      sources,
			TargetItemIDs:    req.TargetItemIDs,
			SourceValue:      sumValues(sourceItems),
			TargetValue:      sumValues(targets),
			Multiplier:       multiplier,
			WinChance:        chance,
			Direction:        req.Direction,
			Won:              won,
			InventoryItemIDs: newIDs,
		}

		events = append(events, newEvent(models.EventUpgradeResolved, wallet.UserID, map[string]any{
			"won":           won,
			"roll":          roll.String(),
			"win_chance":    chance.String(),
			"multiplier":    multiplier.StringFixed(5),
			"direction":     string(req.Direction),
			"settlement_id": st.ID,
		}))

		return events, nil
	}
}

// fail turns whatever stopped a settlement into a classified error.
func (s *SettlementService) fail(ctx context.Context, p settleParams, err error) error {
	switch {
	case errors.Is(err, apperr.ErrResolution), errors.Is(err, apperr.ErrInvalidOdds):
		s.log.Error("settlement integrity violation",
			sl.Op(p.op), sl.UserID(p.userID), slog.String("settlement_id", p.settlementID), sl.Err(err))
		return err
	case isClassified(err):
		return err
	case errors.Is(err, ErrTxConflict):
		s.log.Warn("settlement retries exhausted",
			sl.Op(p.op), sl.UserID(p.userID), slog.String("settlement_id", p.settlementID))
		return apperr.Wrap(apperr.CodeSettlementFailed, p.op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.log.Warn("settlement timed out",
			sl.Op(p.op), sl.UserID(p.userID), slog.String("settlement_id", p.settlementID))
		return apperr.Wrap(apperr.CodeSettlementTimeout, p.op, err)
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.CodeSettlementFailed, p.op, err)
	default:
		s.log.Error("settlement failed", sl.Op(p.op), sl.UserID(p.userID), sl.Err(err))
		return classify(p.op, err)
	}
}

func (s *SettlementService) GetSettlement(ctx context.Context, userID int64, settlementID string) (*models.Settlement, error) {
	const op = "services.SettlementService.GetSettlement"

	st, err := s.redis.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, classify(op, err)
	}
	if st.UserID != userID {
		return nil, apperr.E(apperr.CodeNotFound, op, "settlement "+settlementID+" not found")
	}
	return st, nil
}

func (s *SettlementService) History(ctx context.Context, userID int64, limit int64) ([]*models.Settlement, error) {
	const op = "services.SettlementService.History"

	settlements, err := s.redis.GetUserSettlements(ctx, userID, limit)
	if err != nil {
		return nil, classify(op, err)
	}
	return settlements, nil
}

func isClassified(err error) bool {
	var appErr *apperr.Error
	return errors.As(err, &appErr)
}

func sumValues(items []*models.Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Value)
	}
	return sum
}

func requestID(id string) string {
	if id == "" {
		return models.GenerateSettlementID()
	}
	return id
}

func validateOptionalSeed(op, seed string) error {
	if seed == "" {
		return nil
	}
	if err := models.ValidateClientSeed(seed); err != nil {
		return apperr.E(apperr.CodeInvalidSeed, op, err.Error())
	}
	return nil
}
