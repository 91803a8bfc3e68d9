/**
 * @description
 * This package provides a client for the external escrow settlement rail. The
 * rail exposes the two-phase settlement primitive (authorize, capture, void,
 * refund), the collector endpoints that pull funds from a payer (via allowance
 * or one-shot signed authorization), a payout endpoint used by the refund
 * ledger, and an emergency token recovery endpoint.
 *
 * It encapsulates authenticated HTTP requests, request body construction and
 * response parsing. Business failures reported by the rail come back as an
 * *ErrorResponse so callers can surface them as clean boolean outcomes.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package escrowclient

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
)

// Client is a client for the escrow settlement rail.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new escrow rail client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AuthorizeRequest locks funds against an escrow key. Instant authorizes
// capture atomically and carry the fee split a separate capture would
// otherwise send.
type AuthorizeRequest struct {
	EscrowKey           string `json:"escrow_key"` // hex encoded commitment
	Payer               string `json:"payer"`
	Receiver            string `json:"receiver"`
	Token               string `json:"token"`
	Amount              int64  `json:"amount"`
	Instant             bool   `json:"instant"` // authorize+capture atomically
	PlatformFee         int64  `json:"platform_fee,omitempty"`
	OperatorFee         int64  `json:"operator_fee,omitempty"`
	PlatformDestination string `json:"platform_destination,omitempty"`
	OperatorDestination string `json:"operator_destination,omitempty"`
}

// CaptureRequest releases previously-locked funds to the receiver, split
// between the receiver and the fee destinations.
type CaptureRequest struct {
	EscrowKey           string `json:"escrow_key"`
	Amount              int64  `json:"amount"`
	PlatformFee         int64  `json:"platform_fee"`
	OperatorFee         int64  `json:"operator_fee"`
	PlatformDestination string `json:"platform_destination"`
	OperatorDestination string `json:"operator_destination"`
}

// VoidRequest cancels a pre-capture escrow.
type VoidRequest struct {
	EscrowKey string `json:"escrow_key"`
}

// RefundRequest returns captured or authorized funds to the payer through the
// same collector that pulled them.
type RefundRequest struct {
	EscrowKey string `json:"escrow_key"`
	Amount    int64  `json:"amount"`
}

// CollectRequest pulls funds from a payer. Exactly one of Allowance or
// Authorization applies: an allowance pull relies on a pre-authorized
// spending limit; a one-shot pull carries a signed transfer authorization.
type CollectRequest struct {
	Payer         string                   `json:"payer"`
	Token         string                   `json:"token"`
	Amount        int64                    `json:"amount"`
	Authorization *SignedAuthorizationBody `json:"authorization,omitempty"`
}

// SignedAuthorizationBody is the wire form of a one-shot signed transfer
// authorization.
type SignedAuthorizationBody struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       int64  `json:"value"`
	ValidAfter  int64  `json:"valid_after"`
	ValidBefore int64  `json:"valid_before"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

// PayoutRequest pays a user from the service's pool balance on the rail.
type PayoutRequest struct {
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
}

// OperationResponse is the rail's response for settlement operations.
type OperationResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// ErrorResponse represents an error from the escrow rail.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("escrow rail error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown escrow rail error"
}

// Authorize locks funds under the given escrow key.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*OperationResponse, error) {
	return c.do(ctx, "authorize", "/api/v1/escrows/authorize", req)
}

// Capture releases locked funds to the receiver minus fees.
func (c *Client) Capture(ctx context.Context, req CaptureRequest) (*OperationResponse, error) {
	return c.do(ctx, "capture", "/api/v1/escrows/capture", req)
}

// Void cancels a pre-capture escrow, returning locked funds to the payer.
func (c *Client) Void(ctx context.Context, req VoidRequest) (*OperationResponse, error) {
	return c.do(ctx, "void", "/api/v1/escrows/void", req)
}

// Refund returns funds to the payer after authorize or capture.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*OperationResponse, error) {
	return c.do(ctx, "refund", "/api/v1/escrows/refund", req)
}

// Collect pulls funds from the payer into the service's rail balance.
func (c *Client) Collect(ctx context.Context, req CollectRequest) (*OperationResponse, error) {
	return c.do(ctx, "collect", "/api/v1/collect", req)
}

// Payout pays a user from the service's rail balance.
func (c *Client) Payout(ctx context.Context, req PayoutRequest) (*OperationResponse, error) {
	return c.do(ctx, "payout", "/api/v1/payouts", req)
}

// RecoverTokens sweeps stuck tokens to a safe destination.
func (c *Client) RecoverTokens(ctx context.Context, token, to common.Address, amount int64) error {
	_, err := c.do(ctx, "recover", "/api/v1/recovery", PayoutRequest{
		To:     to.Hex(),
		Token:  token.Hex(),
		Amount: amount,
		Memo:   "emergency token recovery",
	})
	return err
}

// do executes one rail request and parses the response.
func (c *Client) do(ctx context.Context, op, path string, payload interface{}) (*OperationResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-rail-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=escrow_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=escrow_client op=%s status=%d title=%q", op, resp.StatusCode, firstErrorTitle(errResp))
		return nil, &errResp
	}

	var successResp OperationResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}

	return &successResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}
