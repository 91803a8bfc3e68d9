/**
 * @description
 * Domain models for subscription auto-renewal. A config exists per
 * (user, creator) pair and carries a pre-funded balance that the renewal bot
 * debits when extending a subscription. Renewal is price-capped: if the
 * creator's current price exceeds MaxPrice the renewal fails explicitly and
 * the subscription is left to lapse naturally.
 */

package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// AutoRenewalConfig holds a user's renewal instructions for one creator.
type AutoRenewalConfig struct {
	User            common.Address `json:"user"`
	Creator         common.Address `json:"creator"`
	Enabled         bool           `json:"enabled"`
	MaxPrice        int64          `json:"max_price"`
	Balance         int64          `json:"balance"`
	SubscriptionEnd time.Time      `json:"subscription_end"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ConfigureRenewalPayload is the DTO for the renewal configuration endpoint.
// TopUp is added to the pre-funded balance; it is not a replacement value.
type ConfigureRenewalPayload struct {
	User     common.Address `json:"user"`
	Creator  common.Address `json:"creator"`
	Enabled  bool           `json:"enabled"`
	MaxPrice int64          `json:"max_price"`
	TopUp    int64          `json:"top_up"`
}

// SignatureStatus is the lifecycle state of an intent's signature record.
type SignatureStatus string

const (
	SignatureStatusUnprepared SignatureStatus = "unprepared"
	SignatureStatusAwaiting   SignatureStatus = "awaiting_signature"
	SignatureStatusSigned     SignatureStatus = "signed"
	SignatureStatusConsumed   SignatureStatus = "consumed"
)

// IntentSignatureRecord maps an intent to its authorization hash and the
// operator signature gating its execution. The record is exclusively owned by
// the signature authority; the orchestrator only reads and triggers through
// delegated calls.
type IntentSignatureRecord struct {
	IntentID  uuid.UUID       `json:"-"`
	Digest    []byte          `json:"digest"`
	Signature []byte          `json:"-"`
	Signer    common.Address  `json:"signer"`
	Status    SignatureStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
