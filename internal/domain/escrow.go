/**
 * @description
 * Domain models for the escrow settlement mirror. Every escrow operation made
 * against the external settlement rail is reflected in a local EscrowRecord so
 * that later capture/void/refund calls can replay the exact key that was used
 * at authorization time.
 */

package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EscrowStatus is the lifecycle state of an escrow record.
type EscrowStatus string

const (
	EscrowStatusNone       EscrowStatus = "none"
	EscrowStatusAuthorized EscrowStatus = "authorized"
	EscrowStatusCaptured   EscrowStatus = "captured"
	EscrowStatusVoided     EscrowStatus = "voided"
	EscrowStatusRefunded   EscrowStatus = "refunded"
)

// EscrowRecord mirrors one two-phase settlement on the external escrow rail.
//
// Key holds the exact commitment bytes sent at authorization time, derived
// from the record fields and the Nonce. Capture, void and refund always replay
// this stored key; it is never re-derived from current state, because a
// re-derivation from a drifted nonce would silently target the wrong escrow.
type EscrowRecord struct {
	ID             uuid.UUID      `json:"id"`
	IntentID       uuid.UUID      `json:"intent_id"`
	Payer          common.Address `json:"payer"`
	Receiver       common.Address `json:"receiver"`
	Token          common.Address `json:"token"`
	Amount         int64          `json:"amount"`
	CapturedAmount int64          `json:"captured_amount"`
	Nonce          []byte         `json:"-"`
	Key            []byte         `json:"-"`
	Status         EscrowStatus   `json:"status"`
	PaymentType    PaymentType    `json:"payment_type"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
