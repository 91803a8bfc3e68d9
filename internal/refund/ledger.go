/**
 * @description
 * The refund ledger tracks who is owed money and pays them out of a shared,
 * pre-funded refund pool. Requests are keyed by the originating payment
 * intent, so a user can never queue two refunds for one payment. Processing
 * debits the pool and flips the request to processed in a single database
 * transaction, then pays the user out through the settlement rail.
 *
 * An underfunded pool leaves the request open: once the pool is topped up the
 * same request can be processed again. A processed request can never be
 * processed twice.
 *
 * @dependencies
 * - pkg/escrowclient: Rail payout endpoint.
 * - internal/domain, internal/store: Models and persistence.
 */

package refund

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/store"
	"github.com/fanvault/payment-engine/pkg/escrowclient"
)

var (
	ErrNotIntentPayer = errors.New("refund can only be requested by the intent's payer")
	ErrNotAuthorized  = errors.New("principal is not authorized to process refunds")
)

// PayoutClient pays a user from the service's rail balance. Satisfied by
// *escrowclient.Client.
type PayoutClient interface {
	Payout(ctx context.Context, req escrowclient.PayoutRequest) (*escrowclient.OperationResponse, error)
}

// RoleChecker answers role membership. Satisfied by the admin configuration
// snapshot.
type RoleChecker interface {
	HasRole(role domain.Role, principal string) bool
}

// Ledger owns refund requests and the refund pool.
type Ledger struct {
	repo            store.Repository
	rail            PayoutClient
	settlementToken common.Address
}

// NewLedger creates a refund ledger paying out in the settlement token.
func NewLedger(repo store.Repository, rail PayoutClient, settlementToken common.Address) *Ledger {
	return &Ledger{repo: repo, rail: rail, settlementToken: settlementToken}
}

// Request records that the intent's payer is owed the full expected amount.
// The refund amount is always the intent's expected amount; partial refund
// requests are not a user-facing concept.
func (l *Ledger) Request(ctx context.Context, intent *domain.PaymentIntent, user common.Address, reason string) (*domain.RefundRequest, error) {
	if user != intent.Payer {
		return nil, ErrNotIntentPayer
	}

	req := &domain.RefundRequest{
		IntentID: intent.ID,
		User:     user,
		Amount:   intent.ExpectedAmount,
		Reason:   reason,
	}
	if err := l.repo.CreateRefundRequest(ctx, req); err != nil {
		return nil, err
	}
	log.Printf("level=info component=refund_ledger msg=\"refund requested\" intent_id=%s user=%s amount=%d reason=%q",
		intent.ID, user.Hex(), req.Amount, reason)
	return req, nil
}

// Process settles an open refund request: checks the actor's role, debits the
// pool and marks the request processed atomically, then pays the user through
// the rail. An underfunded pool fails without consuming the request.
func (l *Ledger) Process(ctx context.Context, roles RoleChecker, actor string, intentID uuid.UUID) (*domain.RefundRequest, error) {
	if !roles.HasRole(domain.RoleMonitor, actor) && !roles.HasRole(domain.RoleAdmin, actor) {
		return nil, ErrNotAuthorized
	}

	req, err := l.repo.SettleRefundRequest(ctx, intentID)
	if err != nil {
		return nil, err
	}

	_, err = l.rail.Payout(ctx, escrowclient.PayoutRequest{
		To:     req.User.Hex(),
		Token:  l.settlementToken.Hex(),
		Amount: req.Amount,
		Memo:   fmt.Sprintf("refund for intent %s", intentID),
	})
	if err != nil {
		// The ledger already debited the pool; this needs reconciliation, not a
		// silent retry that could pay twice.
		log.Printf("level=error component=refund_ledger msg=\"rail payout failed after settle\" intent_id=%s user=%s amount=%d err=%v",
			intentID, req.User.Hex(), req.Amount, err)
		return nil, fmt.Errorf("refund settled but payout failed for intent %s: %w", intentID, err)
	}

	log.Printf("level=info component=refund_ledger msg=\"refund processed\" intent_id=%s user=%s amount=%d actor=%s",
		intentID, req.User.Hex(), req.Amount, actor)
	return req, nil
}

// Fund tops up the shared refund pool.
func (l *Ledger) Fund(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("pool funding amount must be positive, got %d", amount)
	}
	if err := l.repo.FundRefundPool(ctx, amount); err != nil {
		return err
	}
	log.Printf("level=info component=refund_ledger msg=\"refund pool funded\" amount=%d", amount)
	return nil
}

// Stats returns the pool balance and running totals.
func (l *Ledger) Stats(ctx context.Context) (*domain.RefundPoolStats, error) {
	return l.repo.GetRefundPoolStats(ctx)
}

// StatusFor returns a short status string for the intent's refund record, for
// the payment context read model. Empty when no refund was ever requested.
func (l *Ledger) StatusFor(ctx context.Context, intentID uuid.UUID) (string, error) {
	req, err := l.repo.FindRefundRequestByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, store.ErrRefundRequestNotFound) {
			return "", nil
		}
		return "", err
	}
	if req.Processed {
		return "processed", nil
	}
	return "requested", nil
}
