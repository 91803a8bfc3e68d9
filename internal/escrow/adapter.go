/**
 * @description
 * The escrow adapter drives the two-phase settlement lifecycle against the
 * external escrow rail and mirrors every transition into the local store:
 * authorize locks funds, capture releases them (full or partial), void cancels
 * a pre-capture escrow, refund returns funds after authorize or capture.
 *
 * The escrow key is derived once at authorize time from the intent parameters
 * plus a random nonce, persisted on the record, and replayed verbatim for
 * every later operation. Re-deriving the key on capture would silently orphan
 * locked funds if any derivation input drifted between calls.
 *
 * Local status transitions are compare-and-set in the store, so an illegal
 * transition (capture after void, double capture) fails before the rail is
 * ever called.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto: keccak-256 for key derivation.
 * - pkg/escrowclient: The settlement rail HTTP client.
 * - internal/domain, internal/store: Models and persistence.
 */

package escrow

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/store"
	"github.com/fanvault/payment-engine/pkg/escrowclient"
)

var (
	ErrCaptureExceedsAuthorized = errors.New("capture amount exceeds authorized amount")
	ErrAmountNotPositive        = errors.New("amount must be positive")
)

// RailClient is the subset of the escrow rail client the adapter uses.
// Satisfied by *escrowclient.Client.
type RailClient interface {
	Authorize(ctx context.Context, req escrowclient.AuthorizeRequest) (*escrowclient.OperationResponse, error)
	Capture(ctx context.Context, req escrowclient.CaptureRequest) (*escrowclient.OperationResponse, error)
	Void(ctx context.Context, req escrowclient.VoidRequest) (*escrowclient.OperationResponse, error)
	Refund(ctx context.Context, req escrowclient.RefundRequest) (*escrowclient.OperationResponse, error)
}

// Result is the outcome of a settlement operation. Business declines from the
// rail come back as OK=false with a reason; infrastructure and store failures
// are returned as errors.
type Result struct {
	OK       bool
	Reason   string
	EscrowID uuid.UUID
}

// Adapter mirrors rail-side escrow state into the local store.
type Adapter struct {
	rail RailClient
	repo store.Repository
}

// NewAdapter creates an escrow adapter.
func NewAdapter(rail RailClient, repo store.Repository) *Adapter {
	return &Adapter{rail: rail, repo: repo}
}

// deriveKey computes the escrow commitment for an intent. The random nonce
// makes the key unique even if the same intent parameters recur.
func deriveKey(intent *domain.PaymentIntent, nonce []byte) []byte {
	buf := make([]byte, 0, 16+20+20+20+8+len(nonce))
	buf = append(buf, intent.ID[:]...)
	buf = append(buf, intent.Payer.Bytes()...)
	buf = append(buf, intent.Creator.Bytes()...)
	buf = append(buf, intent.PaymentToken.Bytes()...)
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], uint64(intent.ExpectedAmount))
	buf = append(buf, amt[:]...)
	buf = append(buf, nonce...)
	return crypto.Keccak256(buf)
}

// Authorize locks the intent's expected amount on the rail and records the
// escrow locally with the derived key. When instant is true the rail captures
// atomically, the fee split rides the authorize request in place of a later
// capture, and the local record lands directly in the captured state.
func (a *Adapter) Authorize(ctx context.Context, intent *domain.PaymentIntent, instant bool, fees domain.FeeConfig) (*Result, error) {
	if intent.ExpectedAmount <= 0 {
		return nil, ErrAmountNotPositive
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate escrow nonce: %w", err)
	}
	key := deriveKey(intent, nonce)

	req := escrowclient.AuthorizeRequest{
		EscrowKey: hex.EncodeToString(key),
		Payer:     intent.Payer.Hex(),
		Receiver:  intent.Creator.Hex(),
		Token:     intent.PaymentToken.Hex(),
		Amount:    intent.ExpectedAmount,
		Instant:   instant,
	}
	if instant {
		req.PlatformFee = intent.PlatformFee
		req.OperatorFee = intent.OperatorFee
		req.PlatformDestination = fees.PlatformDestination.Hex()
		req.OperatorDestination = fees.OperatorDestination.Hex()
	}
	railResp, err := a.rail.Authorize(ctx, req)
	if err != nil {
		var railErr *escrowclient.ErrorResponse
		if errors.As(err, &railErr) {
			return &Result{OK: false, Reason: railErr.Error()}, nil
		}
		return nil, fmt.Errorf("escrow authorize failed: %w", err)
	}

	status := domain.EscrowStatusAuthorized
	capturedAmount := int64(0)
	if instant {
		status = domain.EscrowStatusCaptured
		capturedAmount = intent.ExpectedAmount
	}
	rec := &domain.EscrowRecord{
		ID:             uuid.New(),
		IntentID:       intent.ID,
		Payer:          intent.Payer,
		Receiver:       intent.Creator,
		Token:          intent.PaymentToken,
		Amount:         intent.ExpectedAmount,
		CapturedAmount: capturedAmount,
		Nonce:          nonce,
		Key:            key,
		Status:         status,
		PaymentType:    intent.PaymentType,
	}
	if err := a.repo.CreateEscrowRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist escrow record: %w", err)
	}

	log.Printf("level=info component=escrow msg=\"escrow authorized\" intent_id=%s escrow_id=%s amount=%d instant=%t rail_status=%s",
		intent.ID, rec.ID, intent.ExpectedAmount, instant, railResp.Data.Status)
	return &Result{OK: true, EscrowID: rec.ID}, nil
}

// Capture releases amount of the authorized funds to the receiver, routing the
// fee portions to the configured destinations. Partial captures (amount below
// the authorized total) are allowed; over-captures are not.
func (a *Adapter) Capture(ctx context.Context, intentID uuid.UUID, amount, platformFee, operatorFee int64, fees domain.FeeConfig) (*Result, error) {
	if amount <= 0 {
		return nil, ErrAmountNotPositive
	}

	rec, err := a.repo.FindEscrowRecordByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if amount > rec.Amount {
		return nil, fmt.Errorf("%w: capture=%d authorized=%d", ErrCaptureExceedsAuthorized, amount, rec.Amount)
	}

	// Local CAS first: only an authorized escrow can be captured.
	err = a.repo.TransitionEscrowStatus(ctx, rec.ID,
		[]domain.EscrowStatus{domain.EscrowStatusAuthorized}, domain.EscrowStatusCaptured, amount)
	if err != nil {
		return nil, err
	}

	_, err = a.rail.Capture(ctx, escrowclient.CaptureRequest{
		EscrowKey:           hex.EncodeToString(rec.Key),
		Amount:              amount,
		PlatformFee:         platformFee,
		OperatorFee:         operatorFee,
		PlatformDestination: fees.PlatformDestination.Hex(),
		OperatorDestination: fees.OperatorDestination.Hex(),
	})
	if err != nil {
		// Roll the local mirror back so the escrow stays capturable.
		if rbErr := a.repo.TransitionEscrowStatus(ctx, rec.ID,
			[]domain.EscrowStatus{domain.EscrowStatusCaptured}, domain.EscrowStatusAuthorized, 0); rbErr != nil {
			log.Printf("level=error component=escrow msg=\"capture rollback failed\" escrow_id=%s err=%v", rec.ID, rbErr)
		}
		var railErr *escrowclient.ErrorResponse
		if errors.As(err, &railErr) {
			return &Result{OK: false, Reason: railErr.Error(), EscrowID: rec.ID}, nil
		}
		return nil, fmt.Errorf("escrow capture failed: %w", err)
	}

	log.Printf("level=info component=escrow msg=\"escrow captured\" intent_id=%s escrow_id=%s amount=%d", intentID, rec.ID, amount)
	return &Result{OK: true, EscrowID: rec.ID}, nil
}

// Void cancels a pre-capture escrow, returning the locked funds to the payer.
// Captured escrows cannot be voided; use Refund.
func (a *Adapter) Void(ctx context.Context, intentID uuid.UUID) (*Result, error) {
	rec, err := a.repo.FindEscrowRecordByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	err = a.repo.TransitionEscrowStatus(ctx, rec.ID,
		[]domain.EscrowStatus{domain.EscrowStatusAuthorized}, domain.EscrowStatusVoided, 0)
	if err != nil {
		return nil, err
	}

	_, err = a.rail.Void(ctx, escrowclient.VoidRequest{EscrowKey: hex.EncodeToString(rec.Key)})
	if err != nil {
		if rbErr := a.repo.TransitionEscrowStatus(ctx, rec.ID,
			[]domain.EscrowStatus{domain.EscrowStatusVoided}, domain.EscrowStatusAuthorized, 0); rbErr != nil {
			log.Printf("level=error component=escrow msg=\"void rollback failed\" escrow_id=%s err=%v", rec.ID, rbErr)
		}
		var railErr *escrowclient.ErrorResponse
		if errors.As(err, &railErr) {
			return &Result{OK: false, Reason: railErr.Error(), EscrowID: rec.ID}, nil
		}
		return nil, fmt.Errorf("escrow void failed: %w", err)
	}

	log.Printf("level=info component=escrow msg=\"escrow voided\" intent_id=%s escrow_id=%s", intentID, rec.ID)
	return &Result{OK: true, EscrowID: rec.ID}, nil
}

// Refund returns amount to the payer. Valid from both the authorized and the
// captured state; a refunded or voided escrow cannot be refunded again.
func (a *Adapter) Refund(ctx context.Context, intentID uuid.UUID, amount int64) (*Result, error) {
	if amount <= 0 {
		return nil, ErrAmountNotPositive
	}

	rec, err := a.repo.FindEscrowRecordByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	err = a.repo.TransitionEscrowStatus(ctx, rec.ID,
		[]domain.EscrowStatus{domain.EscrowStatusAuthorized, domain.EscrowStatusCaptured},
		domain.EscrowStatusRefunded, 0)
	if err != nil {
		return nil, err
	}

	priorStatus := rec.Status
	_, err = a.rail.Refund(ctx, escrowclient.RefundRequest{
		EscrowKey: hex.EncodeToString(rec.Key),
		Amount:    amount,
	})
	if err != nil {
		if rbErr := a.repo.TransitionEscrowStatus(ctx, rec.ID,
			[]domain.EscrowStatus{domain.EscrowStatusRefunded}, priorStatus, rec.CapturedAmount); rbErr != nil {
			log.Printf("level=error component=escrow msg=\"refund rollback failed\" escrow_id=%s err=%v", rec.ID, rbErr)
		}
		var railErr *escrowclient.ErrorResponse
		if errors.As(err, &railErr) {
			return &Result{OK: false, Reason: railErr.Error(), EscrowID: rec.ID}, nil
		}
		return nil, fmt.Errorf("escrow refund failed: %w", err)
	}

	log.Printf("level=info component=escrow msg=\"escrow refunded\" intent_id=%s escrow_id=%s amount=%d", intentID, rec.ID, amount)
	return &Result{OK: true, EscrowID: rec.ID}, nil
}
