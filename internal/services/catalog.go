package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/fairness"
	"fairroll-backend/internal/models"
)

// CatalogService reads cases and items. Writes exist for seeding; catalog
// administration belongs to another system.
type CatalogService struct {
	redis *RedisService
	log   *slog.Logger
}

func NewCatalogService(redis *RedisService, log *slog.Logger) *CatalogService {
	return &CatalogService{
		redis: redis,
		log:   log,
	}
}

func (c *CatalogService) PutItem(ctx context.Context, item *models.Item) error {
	const op = "services.CatalogService.PutItem"

	if item.ID == "" || !item.Value.IsPositive() {
		return apperr.E(apperr.CodeInvalidRequest, op, "item needs an id and a positive value")
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := c.redis.client.Set(ctx, fmt.Sprintf(KeyItem, item.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *CatalogService) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	const op = "services.CatalogService.GetItem"

	var item models.Item
	found, err := getJSON(ctx, c.redis.client, fmt.Sprintf(KeyItem, itemID), &item)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, apperr.E(apperr.CodeNotFound, op, "item "+itemID+" not found")
	}
	return &item, nil
}

// PutCase stores a case after checking that its odds compile and that every
// item exists.
func (c *CatalogService) PutCase(ctx context.Context, cs *models.Case) error {
	const op = "services.CatalogService.PutCase"

	if cs.ID == "" || !cs.Price.IsPositive() {
		return apperr.E(apperr.CodeInvalidRequest, op, "case needs an id and a positive price")
	}

	if _, err := fairness.CompileCase(cs); err != nil {
		return err
	}

	for _, it := range cs.Items {
		if _, err := c.GetItem(ctx, it.ItemID); err != nil {
			return err
		}
	}

	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := c.redis.client.Set(ctx, fmt.Sprintf(KeyCase, cs.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.log.Info("case stored", slog.String("case_id", cs.ID), slog.Int("items", len(cs.Items)))
	return nil
}

func (c *CatalogService) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	const op = "services.CatalogService.GetCase"

	var cs models.Case
	found, err := getJSON(ctx, c.redis.client, fmt.Sprintf(KeyCase, caseID), &cs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, apperr.E(apperr.CodeNotFound, op, "case "+caseID+" not found")
	}
	return &cs, nil
}
