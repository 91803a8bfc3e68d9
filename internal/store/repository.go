/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the payment engine. By defining an
 * interface, we decouple the business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For record identifiers.
 * - github.com/ethereum/go-ethereum/common: For on-chain principals.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fanvault/payment-engine/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
//
// State-machine transitions (intent processed flag, signature lifecycle,
// escrow status, refund processed flag) are compare-and-set operations at the
// SQL level, so they stay correct even with multiple service instances
// sharing the database.
type Repository interface {
	// Payment intent methods
	CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error
	FindPaymentIntentByID(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error)
	// MarkIntentProcessed flips processed false→true; a second call returns
	// ErrIntentAlreadyProcessed.
	MarkIntentProcessed(ctx context.Context, intentID uuid.UUID) error

	// Signature record methods (owned by the signature authority)
	CreateSignatureRecord(ctx context.Context, rec *domain.IntentSignatureRecord) error
	FindSignatureRecordByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.IntentSignatureRecord, error)
	// AttachSignature moves awaiting_signature→signed for the given intent.
	AttachSignature(ctx context.Context, intentID uuid.UUID, signature []byte, signer common.Address) error
	// ConsumeSignature moves signed→consumed, clearing the stored signature
	// bytes so a consumed record can never be replayed. A consumed or missing
	// signature fails.
	ConsumeSignature(ctx context.Context, intentID uuid.UUID) (*domain.IntentSignatureRecord, error)

	// Escrow mirror methods
	CreateEscrowRecord(ctx context.Context, rec *domain.EscrowRecord) error
	FindEscrowRecordByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.EscrowRecord, error)
	// TransitionEscrowStatus moves the record to `to` only when its current
	// status is one of `from`; otherwise ErrEscrowStateConflict.
	TransitionEscrowStatus(ctx context.Context, escrowID uuid.UUID, from []domain.EscrowStatus, to domain.EscrowStatus, capturedAmount int64) error

	// Refund ledger methods
	CreateRefundRequest(ctx context.Context, req *domain.RefundRequest) error
	FindRefundRequestByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.RefundRequest, error)
	// SettleRefundRequest atomically checks pool balance >= amount, debits the
	// pool, marks the request processed and bumps the running totals.
	SettleRefundRequest(ctx context.Context, intentID uuid.UUID) (*domain.RefundRequest, error)
	FundRefundPool(ctx context.Context, amount int64) error
	GetRefundPoolStats(ctx context.Context) (*domain.RefundPoolStats, error)

	// Auto-renewal methods
	//
	// UpsertAutoRenewalConfig creates or updates the (user, creator) config.
	// The balance on cfg is an additive delta applied on top of the stored
	// balance, and the stored subscription end is preserved on update, so a
	// debit or renewal racing the upsert is never clobbered.
	UpsertAutoRenewalConfig(ctx context.Context, cfg *domain.AutoRenewalConfig) error
	FindAutoRenewalConfig(ctx context.Context, user, creator common.Address) (*domain.AutoRenewalConfig, error)
	// CreditRenewalBalance adds amount to the stored balance.
	CreditRenewalBalance(ctx context.Context, user, creator common.Address, amount int64) error
	// DebitRenewalBalance fails with ErrInsufficientRenewalBalance unless the
	// stored balance covers the amount.
	DebitRenewalBalance(ctx context.Context, user, creator common.Address, amount int64) error
	ExtendSubscriptionEnd(ctx context.Context, user, creator common.Address, newEnd time.Time) error
	ListDueAutoRenewals(ctx context.Context, before time.Time, limit int) ([]domain.AutoRenewalConfig, error)
	// CleanupExpiredSubscriptions removes lapsed entries from the
	// active-subscriber index and returns how many were removed. Historical
	// earnings and counters are preserved.
	CleanupExpiredSubscriptions(ctx context.Context, now time.Time) (int64, error)

	// Role grant audit methods
	RecordRoleGrant(ctx context.Context, grant *domain.RoleGrant) error
	ListRoleGrants(ctx context.Context, limit int) ([]domain.RoleGrant, error)
}
