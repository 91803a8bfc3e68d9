/**
 * @description
 * This package provides a client for the creator and content registries, the
 * directory services that know which creators and content items are active,
 * what they cost, and who has purchased access. The payment engine consults
 * them to validate intents and notifies them when a payment settles so access
 * and earnings stay consistent with money movement.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Client is a client for the creator/content registry services.
type Client struct {
	CreatorBaseURL string
	ContentBaseURL string
	APIKey         string
	HTTPClient     *http.Client
}

// NewClient creates a new registry client.
func NewClient(creatorBaseURL, contentBaseURL, apiKey string) *Client {
	return &Client{
		CreatorBaseURL: creatorBaseURL,
		ContentBaseURL: contentBaseURL,
		APIKey:         apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreatorStatusResponse describes a creator's registration state and
// subscription price.
type CreatorStatusResponse struct {
	Data struct {
		Registered        bool  `json:"registered"`
		Suspended         bool  `json:"suspended"`
		SubscriptionPrice int64 `json:"subscription_price"`
	} `json:"data"`
}

// ContentStatusResponse describes a content item's state and price.
type ContentStatusResponse struct {
	Data struct {
		Active  bool           `json:"active"`
		Creator common.Address `json:"creator"`
		Price   int64          `json:"price"`
	} `json:"data"`
}

// ErrorResponse represents an error from a registry service.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("registry error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown registry error"
}

// IsCreatorActive reports whether the creator is registered and not suspended.
func (c *Client) IsCreatorActive(ctx context.Context, creator common.Address) (bool, error) {
	var resp CreatorStatusResponse
	path := fmt.Sprintf("/api/v1/creators/%s", creator.Hex())
	if err := c.get(ctx, c.CreatorBaseURL, path, &resp); err != nil {
		return false, err
	}
	return resp.Data.Registered && !resp.Data.Suspended, nil
}

// GetCreatorPrice returns the creator's current subscription price.
func (c *Client) GetCreatorPrice(ctx context.Context, creator common.Address) (int64, error) {
	var resp CreatorStatusResponse
	path := fmt.Sprintf("/api/v1/creators/%s", creator.Hex())
	if err := c.get(ctx, c.CreatorBaseURL, path, &resp); err != nil {
		return 0, err
	}
	return resp.Data.SubscriptionPrice, nil
}

// IsContentActive reports whether the content item exists and is purchasable.
func (c *Client) IsContentActive(ctx context.Context, contentID uuid.UUID) (bool, error) {
	var resp ContentStatusResponse
	path := fmt.Sprintf("/api/v1/content/%s", contentID)
	if err := c.get(ctx, c.ContentBaseURL, path, &resp); err != nil {
		return false, err
	}
	return resp.Data.Active, nil
}

// GetContentPrice returns the content item's current price.
func (c *Client) GetContentPrice(ctx context.Context, contentID uuid.UUID) (int64, error) {
	var resp ContentStatusResponse
	path := fmt.Sprintf("/api/v1/content/%s", contentID)
	if err := c.get(ctx, c.ContentBaseURL, path, &resp); err != nil {
		return 0, err
	}
	return resp.Data.Price, nil
}

// RecordEarnings credits settled earnings to the creator's registry profile.
func (c *Client) RecordEarnings(ctx context.Context, creator common.Address, amount int64, source string) error {
	payload := map[string]interface{}{
		"amount": amount,
		"source": source,
	}
	path := fmt.Sprintf("/api/v1/creators/%s/earnings", creator.Hex())
	return c.post(ctx, c.CreatorBaseURL, path, payload)
}

// RecordPurchase bumps the content item's purchase counters.
func (c *Client) RecordPurchase(ctx context.Context, contentID uuid.UUID, buyer common.Address, amount int64) error {
	payload := map[string]interface{}{
		"buyer":  buyer.Hex(),
		"amount": amount,
	}
	path := fmt.Sprintf("/api/v1/content/%s/purchases", contentID)
	return c.post(ctx, c.ContentBaseURL, path, payload)
}

// GrantPurchaseAccess grants the buyer permanent access to a content item.
func (c *Client) GrantPurchaseAccess(ctx context.Context, contentID uuid.UUID, buyer common.Address) error {
	payload := map[string]interface{}{
		"user": buyer.Hex(),
	}
	path := fmt.Sprintf("/api/v1/content/%s/access", contentID)
	return c.post(ctx, c.ContentBaseURL, path, payload)
}

// GrantSubscriptionAccess opens or extends a user's subscription window with
// the creator until expiresAt.
func (c *Client) GrantSubscriptionAccess(ctx context.Context, creator, user common.Address, expiresAt time.Time) error {
	payload := map[string]interface{}{
		"user":       user.Hex(),
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}
	path := fmt.Sprintf("/api/v1/creators/%s/subscribers", creator.Hex())
	return c.post(ctx, c.CreatorBaseURL, path, payload)
}

func (c *Client) get(ctx context.Context, baseURL, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-registry-key", c.APIKey)
	return c.execute(req, path, out)
}

func (c *Client) post(ctx context.Context, baseURL, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal registry request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-registry-key", c.APIKey)
	return c.execute(req, path, nil)
}

func (c *Client) execute(req *http.Request, path string, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute registry request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read registry response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=registry_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return &errResp
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode registry response: %w", err)
	}
	return nil
}
