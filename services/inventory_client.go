package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/repository"
	"go.uber.org/zap"
)

// InventoryClient talks to the inventory service over HTTP. Item lists are
// read through the caller's unit of work so they match what is being paid.
type InventoryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewInventoryClient(baseURL string, logger *zap.Logger) *InventoryClient {
	return &InventoryClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type stockItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type stockRequest struct {
	OrderID string      `json:"order_id"`
	Items   []stockItem `json:"items"`
}

// CommitOnSuccess confirms reserved stock after a payment succeeds.
func (c *InventoryClient) CommitOnSuccess(ctx context.Context, uow repository.UnitOfWork, orderID uuid.UUID) error {
	return c.call(ctx, uow, orderID, "confirm")
}

// RestoreOnFailure releases reserved stock after a payment fails or expires.
func (c *InventoryClient) RestoreOnFailure(ctx context.Context, uow repository.UnitOfWork, orderID uuid.UUID) error {
	return c.call(ctx, uow, orderID, "release")
}

func (c *InventoryClient) call(ctx context.Context, uow repository.UnitOfWork, orderID uuid.UUID, action string) error {
	if c.baseURL == "" {
		c.logger.Debug("Inventory service not configured, skipping", zap.String("action", action))
		return nil
	}
	items, err := uow.Orders().FindItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	payload := stockRequest{OrderID: orderID.String()}
	for _, it := range items {
		payload.Items = append(payload.Items, stockItem{ProductID: it.ProductID.String(), Quantity: it.Quantity})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/inventory/%s", c.baseURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Dependency(ReasonInventoryFailed, "inventory "+action+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp["error"]
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return apperrors.Dependency(ReasonInventoryFailed, "inventory "+action+" failed", fmt.Errorf("%s", msg))
	}

	c.logger.Info("Inventory updated",
		zap.String("action", action),
		zap.String("order_id", orderID.String()),
		zap.Int("items", len(items)),
	)
	return nil
}
