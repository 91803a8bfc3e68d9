/**
 * @description
 * This file contains the core business logic for the payment engine. The
 * Service orchestrates the full lifecycle of a payment: intent creation with
 * price validation and fee splitting, operator signature gating, execution
 * against the escrow settlement rail, registry access grants, and the refund
 * path when settlement partially fails.
 *
 * Execution is at-most-once twice over: a per-intent lock serializes
 * concurrent calls within this process, and the signature consume plus the
 * intent processed flag are compare-and-set in the database, so a second
 * service instance racing on the same intent loses cleanly.
 *
 * @dependencies
 * - internal/admin, internal/signing, internal/pricing, internal/escrow,
 *   internal/refund: The engine's collaborating components.
 * - internal/store, internal/domain: Persistence and models.
 * - pkg/rabbitmq: Lifecycle event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fanvault/payment-engine/internal/admin"
	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/escrow"
	"github.com/fanvault/payment-engine/internal/pricing"
	"github.com/fanvault/payment-engine/internal/refund"
	"github.com/fanvault/payment-engine/internal/signing"
	"github.com/fanvault/payment-engine/internal/store"
	"github.com/fanvault/payment-engine/pkg/rabbitmq"
)

var (
	ErrInvalidPaymentType = errors.New("unknown payment type")
	ErrInvalidCreator     = errors.New("creator is not registered or is suspended")
	ErrInvalidContent     = errors.New("content does not exist or is not purchasable")
	ErrContentRequired    = errors.New("pay-per-view intents require a content id")
	ErrDeadlineInPast     = errors.New("intent deadline must be in the future")
	ErrAmountNotPositive  = errors.New("amount must be positive")
	ErrAmountBelowPrice   = errors.New("amount is below the registry price")
	ErrSlippageExceeded   = errors.New("price impact exceeds the allowed slippage")
	ErrNoSignature        = errors.New("intent has no consumable operator signature")
	ErrIntentExpired      = errors.New("intent deadline has passed")
)

// Registry is the subset of the registry client the orchestrator uses.
// Satisfied by *registryclient.Client.
type Registry interface {
	IsCreatorActive(ctx context.Context, creator common.Address) (bool, error)
	GetCreatorPrice(ctx context.Context, creator common.Address) (int64, error)
	IsContentActive(ctx context.Context, contentID uuid.UUID) (bool, error)
	GetContentPrice(ctx context.Context, contentID uuid.UUID) (int64, error)
	RecordEarnings(ctx context.Context, creator common.Address, amount int64, source string) error
	RecordPurchase(ctx context.Context, contentID uuid.UUID, buyer common.Address, amount int64) error
	GrantPurchaseAccess(ctx context.Context, contentID uuid.UUID, buyer common.Address) error
	GrantSubscriptionAccess(ctx context.Context, creator, user common.Address, expiresAt time.Time) error
}

// Service provides the core business logic for the payment engine.
type Service struct {
	repo            store.Repository
	admin           *admin.Manager
	authority       *signing.Authority
	oracle          *pricing.Oracle
	escrow          *escrow.Adapter
	refunds         *refund.Ledger
	executor        *PermitExecutor
	registry        Registry
	producer        rabbitmq.Publisher
	rail            RenewalPayer
	settlementToken common.Address

	locks intentLocks
}

// NewService creates a new instance of the payment engine service.
func NewService(
	repo store.Repository,
	adminMgr *admin.Manager,
	authority *signing.Authority,
	oracle *pricing.Oracle,
	escrowAdapter *escrow.Adapter,
	refunds *refund.Ledger,
	executor *PermitExecutor,
	registry Registry,
	producer rabbitmq.Publisher,
	rail RenewalPayer,
	settlementToken common.Address,
) *Service {
	return &Service{
		repo:            repo,
		admin:           adminMgr,
		authority:       authority,
		oracle:          oracle,
		escrow:          escrowAdapter,
		refunds:         refunds,
		executor:        executor,
		registry:        registry,
		producer:        producer,
		rail:            rail,
		settlementToken: settlementToken,
		locks:           intentLocks{entries: make(map[uuid.UUID]*lockEntry)},
	}
}

// intentLocks hands out one mutex per in-flight intent so concurrent
// executions of the same intent serialize within this process. Entries are
// refcounted and removed when the last holder releases.
type intentLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *intentLocks) lock(id uuid.UUID) *lockEntry {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return e
}

func (l *intentLocks) unlock(id uuid.UUID, e *lockEntry) {
	e.mu.Unlock()

	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
	l.mu.Unlock()
}

// splitFees computes the truncating basis-point fee split. The creator amount
// absorbs the truncation remainder so the three parts always sum exactly to
// the total.
func splitFees(total int64, fees domain.FeeConfig) (platformFee, operatorFee, creatorAmount int64) {
	platformFee = feePortion(total, fees.PlatformFeeBps)
	operatorFee = feePortion(total, fees.OperatorFeeBps)
	creatorAmount = total - platformFee - operatorFee
	return platformFee, operatorFee, creatorAmount
}

// feePortion computes total*bps/10000 without overflowing int64 for amounts
// near the type's ceiling. Splitting total into quotient and remainder keeps
// every intermediate small while preserving the truncating result.
func feePortion(total, bps int64) int64 {
	return total/10000*bps + total%10000*bps/10000
}

// CreatePaymentIntent validates the request, converts multi-token amounts
// through the price oracle, fixes the fee split and persists the intent with
// its signature record in the awaiting state.
func (s *Service) CreatePaymentIntent(ctx context.Context, req *domain.CreateIntentRequest) (*domain.PaymentContext, error) {
	// 1. Capture configuration and refuse while paused.
	snap := s.admin.Snapshot()
	if snap.Paused {
		return nil, admin.ErrSystemPaused
	}

	// 2. Structural validation.
	if !req.PaymentType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentType, req.PaymentType)
	}
	if req.Payer == (common.Address{}) || req.Creator == (common.Address{}) {
		return nil, errors.New("payer and creator must not be the zero address")
	}
	if req.Amount <= 0 {
		return nil, ErrAmountNotPositive
	}
	if !req.Deadline.After(time.Now()) {
		return nil, ErrDeadlineInPast
	}
	if req.MaxSlippageBps < 0 {
		return nil, fmt.Errorf("max slippage must not be negative, got %d", req.MaxSlippageBps)
	}

	// 3. Registry validation: the creator must be active, and pay-per-view
	// intents must name active content.
	active, err := s.registry.IsCreatorActive(ctx, req.Creator)
	if err != nil {
		return nil, fmt.Errorf("creator registry lookup failed: %w", err)
	}
	if !active {
		return nil, ErrInvalidCreator
	}
	if req.PaymentType == domain.PaymentTypePayPerView {
		if req.ContentID == nil {
			return nil, ErrContentRequired
		}
		contentActive, err := s.registry.IsContentActive(ctx, *req.ContentID)
		if err != nil {
			return nil, fmt.Errorf("content registry lookup failed: %w", err)
		}
		if !contentActive {
			return nil, ErrInvalidContent
		}
	}

	// 4. Convert the payment token amount into the settlement currency and
	// enforce the payer's slippage cap.
	expectedAmount := req.Amount
	quotedAmountIn := int64(0)
	if req.PaymentToken != s.settlementToken {
		expectedAmount, err = s.oracle.ConvertAmount(ctx, req.PaymentToken, s.settlementToken, req.Amount)
		if err != nil {
			return nil, err
		}
		if expectedAmount <= 0 {
			return nil, ErrAmountNotPositive
		}
		impact, err := s.oracle.CheckPriceImpact(ctx, req.PaymentToken, s.settlementToken, req.Amount)
		if err != nil {
			return nil, err
		}
		if req.MaxSlippageBps > 0 && impact > req.MaxSlippageBps {
			return nil, fmt.Errorf("%w: impact=%d bps max=%d bps", ErrSlippageExceeded, impact, req.MaxSlippageBps)
		}
		quotedAmountIn = req.Amount
	}

	// 5. The settlement amount must cover the registry price.
	if err := s.checkPriceFloor(ctx, req, expectedAmount); err != nil {
		return nil, err
	}

	// 6. Fix the fee split at creation time. Later fee config changes never
	// touch this intent.
	platformFee, operatorFee, creatorAmount := splitFees(expectedAmount, snap.Fees)

	intent := &domain.PaymentIntent{
		ID:             uuid.New(),
		Payer:          req.Payer,
		Creator:        req.Creator,
		PaymentType:    req.PaymentType,
		ContentID:      req.ContentID,
		PaymentToken:   req.PaymentToken,
		ExpectedAmount: expectedAmount,
		PlatformFee:    platformFee,
		CreatorAmount:  creatorAmount,
		OperatorFee:    operatorFee,
		Deadline:       req.Deadline,
	}
	if err := s.repo.CreatePaymentIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to persist payment intent: %w", err)
	}

	// 7. Open the signature record so an operator can sign.
	if _, err := s.authority.Prepare(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to prepare signature record: %w", err)
	}

	s.publishPaymentEvent(ctx, "payment.intent.created", intent, "")
	log.Printf("level=info component=payment_service msg=\"payment intent created\" intent_id=%s payer=%s creator=%s type=%s amount=%d",
		intent.ID, intent.Payer.Hex(), intent.Creator.Hex(), intent.PaymentType, intent.ExpectedAmount)

	return &domain.PaymentContext{
		Intent:          intent,
		SignatureStatus: string(domain.SignatureStatusAwaiting),
		EscrowStatus:    domain.EscrowStatusNone,
		QuotedAmountIn:  quotedAmountIn,
	}, nil
}

func (s *Service) checkPriceFloor(ctx context.Context, req *domain.CreateIntentRequest, expectedAmount int64) error {
	switch req.PaymentType {
	case domain.PaymentTypePayPerView:
		price, err := s.registry.GetContentPrice(ctx, *req.ContentID)
		if err != nil {
			return fmt.Errorf("content price lookup failed: %w", err)
		}
		if expectedAmount < price {
			return fmt.Errorf("%w: amount=%d price=%d", ErrAmountBelowPrice, expectedAmount, price)
		}
	case domain.PaymentTypeSubscription:
		price, err := s.registry.GetCreatorPrice(ctx, req.Creator)
		if err != nil {
			return fmt.Errorf("creator price lookup failed: %w", err)
		}
		if expectedAmount < price {
			return fmt.Errorf("%w: amount=%d price=%d", ErrAmountBelowPrice, expectedAmount, price)
		}
	}
	// Tips and donations have no floor beyond being positive.
	return nil
}

// ProvideIntentSignature verifies and attaches an operator signature to the
// intent's signature record. An expired intent refuses the signature and the
// record stays awaiting.
func (s *Service) ProvideIntentSignature(ctx context.Context, intentID uuid.UUID, signature []byte) (common.Address, error) {
	snap := s.admin.Snapshot()
	if snap.Paused {
		return common.Address{}, admin.ErrSystemPaused
	}
	intent, err := s.repo.FindPaymentIntentByID(ctx, intentID)
	if err != nil {
		return common.Address{}, err
	}
	if intent.Expired(time.Now()) {
		return common.Address{}, ErrIntentExpired
	}
	signer, err := s.authority.Attach(ctx, snap, intentID, signature)
	if err != nil {
		return common.Address{}, err
	}
	log.Printf("level=info component=payment_service msg=\"intent signature attached\" intent_id=%s signer=%s", intentID, signer.Hex())
	return signer, nil
}

// ExecutePaymentWithSignature settles a signed intent: consumes the signature,
// pulls funds from the payer, runs the escrow authorize/capture pair, grants
// access through the registry and marks the intent processed.
//
// Business failures (expired deadline, declined transfer, unreachable rail)
// come back as ExecutionResult with Success=false; protocol misuse (missing or
// reused signature, already-processed intent) is an error.
func (s *Service) ExecutePaymentWithSignature(ctx context.Context, intentID uuid.UUID, auth *domain.TransferAuthorization) (*domain.ExecutionResult, error) {
	// 1. Serialize concurrent executions of the same intent in this process.
	entry := s.locks.lock(intentID)
	defer s.locks.unlock(intentID, entry)

	snap := s.admin.Snapshot()
	if snap.Paused {
		return nil, admin.ErrSystemPaused
	}

	intent, err := s.repo.FindPaymentIntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Processed {
		return nil, store.ErrIntentAlreadyProcessed
	}
	if intent.Expired(time.Now()) {
		return s.failExecution(ctx, intent, "intent deadline has passed"), nil
	}

	// 2. Consume the operator signature. The signed→consumed transition is
	// compare-and-set, so across all service instances exactly one execution
	// gets past this point per signature.
	if _, err := s.authority.Consume(ctx, intentID); err != nil {
		if errors.Is(err, signing.ErrSignatureNotPresent) || errors.Is(err, store.ErrSignatureStateConflict) {
			return nil, ErrNoSignature
		}
		return nil, err
	}

	// 3. Pull funds from the payer. Nothing has moved if this fails, so it is
	// a clean failure with no refund owed; the signature is spent and the
	// payer starts over with a fresh intent.
	if err := s.executor.Collect(ctx, intent.Payer, intent.PaymentToken, intent.ExpectedAmount, auth); err != nil {
		log.Printf("level=warn component=payment_service msg=\"fund collection failed\" intent_id=%s err=%v", intentID, err)
		return s.failExecution(ctx, intent, fmt.Sprintf("fund collection failed: %v", err)), nil
	}

	// 4. Settle through escrow with the fee split fixed at intent creation.
	// Pay-per-view settles in one shot: the rail captures atomically at
	// authorize time with the fee split on the request. Other types lock
	// first and release in a separate capture.
	instant := intent.PaymentType == domain.PaymentTypePayPerView
	authRes, err := s.escrow.Authorize(ctx, intent, instant, snap.Fees)
	if err != nil || !authRes.OK {
		reason := "escrow authorization unavailable"
		if err == nil {
			reason = authRes.Reason
		}
		// Funds were collected but never settled; queue a refund.
		s.queueAutoRefund(ctx, intent, reason)
		return s.failExecution(ctx, intent, reason), nil
	}

	escrowID := authRes.EscrowID
	if !instant {
		capRes, err := s.escrow.Capture(ctx, intentID, intent.ExpectedAmount, intent.PlatformFee, intent.OperatorFee, snap.Fees)
		if err != nil || !capRes.OK {
			reason := "escrow capture unavailable"
			if err == nil {
				reason = capRes.Reason
			}
			// Try to release the lock back to the payer; fall back to the
			// refund ledger if the rail will not void.
			if voidRes, voidErr := s.escrow.Void(ctx, intentID); voidErr != nil || !voidRes.OK {
				s.queueAutoRefund(ctx, intent, reason)
			}
			return s.failExecution(ctx, intent, reason), nil
		}
		escrowID = capRes.EscrowID
	}

	// 5. Grant what the payment bought. Money has moved, so a grant failure
	// queues a refund rather than leaving the payer with nothing.
	if err := s.grantAccess(ctx, intent); err != nil {
		reason := fmt.Sprintf("access grant failed: %v", err)
		s.queueAutoRefund(ctx, intent, reason)
		return s.failExecution(ctx, intent, reason), nil
	}

	// 6. Close the intent.
	if err := s.repo.MarkIntentProcessed(ctx, intentID); err != nil {
		return nil, err
	}

	s.publishPaymentEvent(ctx, "payment.executed", intent, "")
	log.Printf("level=info component=payment_service msg=\"payment executed\" intent_id=%s escrow_id=%s amount=%d",
		intentID, escrowID, intent.ExpectedAmount)
	return &domain.ExecutionResult{Success: true, IntentID: intentID, EscrowID: escrowID}, nil
}

// grantAccess performs the per-payment-type registry effects.
func (s *Service) grantAccess(ctx context.Context, intent *domain.PaymentIntent) error {
	switch intent.PaymentType {
	case domain.PaymentTypePayPerView:
		if err := s.registry.GrantPurchaseAccess(ctx, *intent.ContentID, intent.Payer); err != nil {
			return err
		}
		if err := s.registry.RecordPurchase(ctx, *intent.ContentID, intent.Payer, intent.ExpectedAmount); err != nil {
			log.Printf("level=warn component=payment_service msg=\"purchase count update failed\" intent_id=%s err=%v", intent.ID, err)
		}
	case domain.PaymentTypeSubscription:
		if err := s.registry.GrantSubscriptionAccess(ctx, intent.Creator, intent.Payer, time.Now().Add(subscriptionPeriod)); err != nil {
			return err
		}
	}
	// Earnings recording is bookkeeping; a failure must not claw back access
	// the payer already paid for.
	if err := s.registry.RecordEarnings(ctx, intent.Creator, intent.CreatorAmount, string(intent.PaymentType)); err != nil {
		log.Printf("level=warn component=payment_service msg=\"earnings recording failed\" intent_id=%s creator=%s err=%v",
			intent.ID, intent.Creator.Hex(), err)
	}
	return nil
}

func (s *Service) failExecution(ctx context.Context, intent *domain.PaymentIntent, reason string) *domain.ExecutionResult {
	s.publishPaymentEvent(ctx, "payment.failed", intent, reason)
	return &domain.ExecutionResult{Success: false, IntentID: intent.ID, Reason: reason}
}

// queueAutoRefund opens a refund request on behalf of the payer after funds
// moved but the payment could not complete.
func (s *Service) queueAutoRefund(ctx context.Context, intent *domain.PaymentIntent, reason string) {
	if _, err := s.refunds.Request(ctx, intent, intent.Payer, reason); err != nil {
		if errors.Is(err, store.ErrRefundAlreadyRequested) {
			return
		}
		log.Printf("level=error component=payment_service msg=\"auto refund request failed\" intent_id=%s err=%v", intent.ID, err)
		return
	}
	s.publishPaymentEvent(ctx, "refund.requested", intent, reason)
}

// RequestRefund opens a refund request for the intent's payer.
func (s *Service) RequestRefund(ctx context.Context, intentID uuid.UUID, payload *domain.RequestRefundPayload) (*domain.RefundRequest, error) {
	snap := s.admin.Snapshot()
	if snap.Paused {
		return nil, admin.ErrSystemPaused
	}

	intent, err := s.repo.FindPaymentIntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	req, err := s.refunds.Request(ctx, intent, payload.User, payload.Reason)
	if err != nil {
		return nil, err
	}
	s.publishPaymentEvent(ctx, "refund.requested", intent, payload.Reason)
	return req, nil
}

// ProcessRefund settles an open refund request. The actor must hold the
// monitor or admin role; that check lives in the ledger. Paused systems move
// no money, so processing waits for an unpause.
func (s *Service) ProcessRefund(ctx context.Context, actor string, intentID uuid.UUID) (*domain.RefundRequest, error) {
	snap := s.admin.Snapshot()
	if snap.Paused {
		return nil, admin.ErrSystemPaused
	}
	req, err := s.refunds.Process(ctx, snap, actor, intentID)
	if err != nil {
		return nil, err
	}

	if intent, findErr := s.repo.FindPaymentIntentByID(ctx, intentID); findErr == nil {
		s.publishPaymentEvent(ctx, "refund.processed", intent, req.Reason)
	}
	return req, nil
}

// FundRefundPool tops up the shared refund pool. Restricted to monitor/admin
// and refused while paused.
func (s *Service) FundRefundPool(ctx context.Context, actor string, amount int64) error {
	snap := s.admin.Snapshot()
	if snap.Paused {
		return admin.ErrSystemPaused
	}
	if !snap.HasRole(domain.RoleMonitor, actor) && !snap.HasRole(domain.RoleAdmin, actor) {
		return refund.ErrNotAuthorized
	}
	return s.refunds.Fund(ctx, amount)
}

// RefundPoolStats returns the refund pool metrics. Read-only, available while
// paused.
func (s *Service) RefundPoolStats(ctx context.Context) (*domain.RefundPoolStats, error) {
	return s.refunds.Stats(ctx)
}

// GetPaymentContext aggregates the intent with its signature, escrow and
// refund state. Read-only, available while paused.
func (s *Service) GetPaymentContext(ctx context.Context, intentID uuid.UUID) (*domain.PaymentContext, error) {
	intent, err := s.repo.FindPaymentIntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	sigStatus, err := s.authority.Status(ctx, intentID)
	if err != nil {
		return nil, err
	}

	escrowStatus := domain.EscrowStatusNone
	if rec, err := s.repo.FindEscrowRecordByIntentID(ctx, intentID); err == nil {
		escrowStatus = rec.Status
	} else if !errors.Is(err, store.ErrEscrowRecordNotFound) {
		return nil, err
	}

	refundStatus, err := s.refunds.StatusFor(ctx, intentID)
	if err != nil {
		return nil, err
	}

	return &domain.PaymentContext{
		Intent:          intent,
		SignatureStatus: string(sigStatus),
		EscrowStatus:    escrowStatus,
		RefundStatus:    refundStatus,
	}, nil
}

// RoleGrantAudit lists the recorded role grant history, newest first.
func (s *Service) RoleGrantAudit(ctx context.Context, limit int) ([]domain.RoleGrant, error) {
	return s.repo.ListRoleGrants(ctx, limit)
}

func (s *Service) publishPaymentEvent(ctx context.Context, routingKey string, intent *domain.PaymentIntent, reason string) {
	if s.producer == nil {
		return
	}
	err := s.producer.PublishPaymentEvent(ctx, routingKey, rabbitmq.PaymentEvent{
		IntentID:    intent.ID,
		Payer:       intent.Payer.Hex(),
		Creator:     intent.Creator.Hex(),
		PaymentType: string(intent.PaymentType),
		Amount:      intent.ExpectedAmount,
		Reason:      reason,
		Timestamp:   time.Now(),
	})
	if err != nil {
		log.Printf("level=warn component=payment_service msg=\"event publish failed\" routing_key=%s intent_id=%s err=%v", routingKey, intent.ID, err)
	}
}
