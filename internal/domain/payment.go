/**
 * @description
 * This file defines the core domain models for the payment engine. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest unit of
 *   the settlement currency, which avoids floating-point inaccuracies with
 *   financial data.
 * - On-chain principals (payers, creators, tokens, fee destinations) are
 *   `common.Address` values; internal record identifiers are UUIDs.
 */

package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// PaymentType classifies what a payment intent is paying for.
type PaymentType string

const (
	PaymentTypePayPerView   PaymentType = "pay_per_view"
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeTip          PaymentType = "tip"
	PaymentTypeDonation     PaymentType = "donation"
)

// Valid reports whether t is one of the recognised payment types.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypePayPerView, PaymentTypeSubscription, PaymentTypeTip, PaymentTypeDonation:
		return true
	}
	return false
}

// PaymentIntent is the central record for any money movement in the system.
// It is created before funds move and retained indefinitely for audit.
// The fee split is fixed at creation time:
// CreatorAmount + PlatformFee + OperatorFee == ExpectedAmount.
type PaymentIntent struct {
	ID             uuid.UUID      `json:"id"`
	Payer          common.Address `json:"payer"`
	Creator        common.Address `json:"creator"`
	PaymentType    PaymentType    `json:"payment_type"`
	ContentID      *uuid.UUID     `json:"content_id,omitempty"`
	PaymentToken   common.Address `json:"payment_token"`
	ExpectedAmount int64          `json:"expected_amount"` // in settlement currency smallest unit
	PlatformFee    int64          `json:"platform_fee"`
	CreatorAmount  int64          `json:"creator_amount"`
	OperatorFee    int64          `json:"operator_fee"`
	Deadline       time.Time      `json:"deadline"`
	Processed      bool           `json:"processed"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Expired reports whether the intent's deadline has passed at the given time.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return !p.Deadline.After(now)
}

// CreateIntentRequest is the DTO for incoming intent creation API requests.
type CreateIntentRequest struct {
	Payer          common.Address `json:"payer"`
	Creator        common.Address `json:"creator"`
	PaymentType    PaymentType    `json:"payment_type"`
	ContentID      *uuid.UUID     `json:"content_id,omitempty"`
	PaymentToken   common.Address `json:"payment_token"`
	Amount         int64          `json:"amount"` // denominated in PaymentToken
	MaxSlippageBps int64          `json:"max_slippage_bps"`
	Deadline       time.Time      `json:"deadline"`
}

// PaymentContext is the read model returned to callers after intent creation
// and from the context lookup endpoint. It aggregates the intent with the
// state of its signature, escrow and refund records.
type PaymentContext struct {
	Intent          *PaymentIntent `json:"intent"`
	SignatureStatus string         `json:"signature_status"`
	EscrowStatus    EscrowStatus   `json:"escrow_status"`
	RefundStatus    string         `json:"refund_status,omitempty"`
	QuotedAmountIn  int64          `json:"quoted_amount_in,omitempty"` // amount in PaymentToken, when it differs from settlement currency
}

// ExecutionResult is the caller-visible outcome of executePaymentWithSignature.
// Expected business failures (transfer declined, escrow unavailable, expired
// deadline) are reported here with Success=false; only protocol misuse such as
// double execution surfaces as an error.
type ExecutionResult struct {
	Success  bool      `json:"success"`
	IntentID uuid.UUID `json:"intent_id"`
	Reason   string    `json:"reason,omitempty"`
	EscrowID uuid.UUID `json:"escrow_id,omitempty"`
}

// FeeConfig holds the fee rates and destinations in force at a point in time.
// Fee amounts on intents are fixed at creation, so changing these values never
// retroactively alters an existing intent's split.
type FeeConfig struct {
	PlatformFeeBps      int64          `json:"platform_fee_bps"`
	OperatorFeeBps      int64          `json:"operator_fee_bps"`
	PlatformDestination common.Address `json:"platform_destination"`
	OperatorDestination common.Address `json:"operator_destination"`
}

// TransferAuthorization is a one-shot signed transfer authorization presented
// at execution time as an alternative to a pre-authorized allowance. The payer
// signs the (from, to, value, validAfter, validBefore, nonce) tuple.
type TransferAuthorization struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       int64          `json:"value"`
	ValidAfter  time.Time      `json:"valid_after"`
	ValidBefore time.Time      `json:"valid_before"`
	Nonce       [32]byte       `json:"nonce"`
	Signature   []byte         `json:"signature"`
}
