/**
 * @description
 * This package provides a client for the external price quoting service. The
 * service answers token-pair conversion quotes and recommends a fee tier for
 * the venue. A pair with no liquidity is a distinct, typed failure so callers
 * can tell "no route" apart from a valid zero quote.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package oracleclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoRoute indicates no liquidity exists for the requested pair.
var ErrNoRoute = errors.New("no liquidity route for token pair")

// Client is a client for the quoting service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new quoting service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// QuoteRequest asks for the output amount of a token-pair conversion.
type QuoteRequest struct {
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
	AmountIn int64  `json:"amount_in"`
	FeeTier  int    `json:"fee_tier"` // 0 lets the service pick the venue
}

// QuoteResponse carries the conversion result and the venue parameters the
// service recommends.
type QuoteResponse struct {
	Data struct {
		AmountOut          int64 `json:"amount_out"`
		RecommendedFeeTier int   `json:"recommended_fee_tier"`
		NoRoute            bool  `json:"no_route"`
	} `json:"data"`
}

// ErrorResponse represents an error from the quoting service.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("oracle error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown oracle error"
}

// Quote returns the expected output amount for converting amountIn of tokenIn
// into tokenOut. A pair without liquidity returns ErrNoRoute.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn int64, feeTier int) (int64, error) {
	payload := QuoteRequest{
		TokenIn:  tokenIn.Hex(),
		TokenOut: tokenOut.Hex(),
		AmountIn: amountIn,
		FeeTier:  feeTier,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal quote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/quote", bytes.NewBuffer(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create quote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-oracle-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute quote request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read quote response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=oracle_client op=quote status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return 0, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return 0, &errResp
	}

	var quoteResp QuoteResponse
	if err := json.Unmarshal(bodyBytes, &quoteResp); err != nil {
		return 0, fmt.Errorf("failed to decode quote response: %w", err)
	}
	if quoteResp.Data.NoRoute {
		return 0, ErrNoRoute
	}

	return quoteResp.Data.AmountOut, nil
}
