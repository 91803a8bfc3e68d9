/**
 * @description
 * Price oracle adapter for multi-token payments. When a payer pays in a token
 * other than the settlement currency, the expected amount must be converted
 * through a live quote and the caller's quote must be validated against the
 * live price within a tolerance. The oracle is advisory only: it informs what
 * the payer should provide, it never decides whether an executed payment
 * succeeded.
 *
 * @dependencies
 * - math/big: Overflow-safe basis-point arithmetic on settlement amounts.
 * - pkg/oracleclient: The quoting service HTTP client (Quoter is satisfied by it).
 */

package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanvault/payment-engine/pkg/oracleclient"
)

// ErrNoLiquidity indicates the token pair has no route. Distinct from a valid
// zero-price quote, which is returned as (0, nil).
var ErrNoLiquidity = errors.New("token pair has no liquidity")

// ErrQuoteOutOfTolerance indicates the caller-provided expected amount drifted
// too far from the live quote.
var ErrQuoteOutOfTolerance = errors.New("expected amount outside slippage tolerance of live quote")

// Quoter answers token-pair conversion quotes. Satisfied by
// *oracleclient.Client.
type Quoter interface {
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn int64, feeTier int) (int64, error)
}

// Oracle wraps a Quoter with the validation rules payments need.
type Oracle struct {
	quoter Quoter
}

// NewOracle creates a price oracle over the given quoter.
func NewOracle(quoter Quoter) *Oracle {
	return &Oracle{quoter: quoter}
}

// ConvertAmount quotes how much tokenOut amountIn of tokenIn converts to.
// A pair with no liquidity returns ErrNoLiquidity.
func (o *Oracle) ConvertAmount(ctx context.Context, tokenIn, tokenOut common.Address, amountIn int64) (int64, error) {
	if tokenIn == tokenOut {
		return amountIn, nil
	}
	out, err := o.quoter.Quote(ctx, tokenIn, tokenOut, amountIn, 0)
	if err != nil {
		if errors.Is(err, oracleclient.ErrNoRoute) {
			return 0, ErrNoLiquidity
		}
		return 0, fmt.Errorf("failed to quote %s->%s: %w", tokenIn.Hex(), tokenOut.Hex(), err)
	}
	return out, nil
}

// ValidateQuote checks that expectedAmount is within toleranceBps of the live
// quote for converting amountIn of tokenIn into tokenOut. The tolerance is
// symmetric: |live - expected| relative to expected.
func (o *Oracle) ValidateQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, expectedAmount, toleranceBps int64) error {
	if expectedAmount <= 0 {
		return fmt.Errorf("expected amount must be positive, got %d", expectedAmount)
	}
	live, err := o.ConvertAmount(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return err
	}

	diff := live - expectedAmount
	if diff < 0 {
		diff = -diff
	}
	// Settlement amounts can be large enough that diff*10000 overflows int64,
	// so the comparison runs in big.Int.
	drift := new(big.Int).Mul(big.NewInt(diff), big.NewInt(10000))
	allowed := new(big.Int).Mul(big.NewInt(expectedAmount), big.NewInt(toleranceBps))
	if drift.Cmp(allowed) > 0 {
		return fmt.Errorf("%w: live=%d expected=%d tolerance_bps=%d", ErrQuoteOutOfTolerance, live, expectedAmount, toleranceBps)
	}
	return nil
}

// CheckPriceImpact round-trips amountIn through the pair and reports the
// impact in basis points. Large impact means the pool is too thin for the
// trade size.
func (o *Oracle) CheckPriceImpact(ctx context.Context, tokenIn, tokenOut common.Address, amountIn int64) (int64, error) {
	if tokenIn == tokenOut {
		return 0, nil
	}
	forward, err := o.ConvertAmount(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return 0, err
	}
	if forward == 0 {
		return 0, ErrNoLiquidity
	}
	back, err := o.ConvertAmount(ctx, tokenOut, tokenIn, forward)
	if err != nil {
		return 0, err
	}
	if back >= amountIn {
		return 0, nil
	}
	impact := new(big.Int).Mul(big.NewInt(amountIn-back), big.NewInt(10000))
	impact.Div(impact, big.NewInt(amountIn))
	return impact.Int64(), nil
}
