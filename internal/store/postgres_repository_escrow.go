/**
 * @description
 * PostgreSQL queries for the escrow mirror table. The escrow state machine is
 * enforced here with compare-and-set updates: a transition only succeeds when
 * the row's current status is in the allowed source set, so an illegal
 * transition fails with a state-conflict error instead of silently no-opping.
 */

package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fanvault/payment-engine/internal/domain"
)

// CreateEscrowRecord persists the local mirror of an external escrow,
// including the exact key bytes sent at authorization time.
func (r *PostgresRepository) CreateEscrowRecord(ctx context.Context, rec *domain.EscrowRecord) error {
	query := `
		INSERT INTO escrow_records (
			id, intent_id, payer, receiver, token, amount, captured_amount,
			nonce, escrow_key, status, payment_type, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.IntentID,
		rec.Payer.Hex(),
		rec.Receiver.Hex(),
		rec.Token.Hex(),
		rec.Amount,
		rec.CapturedAmount,
		rec.Nonce,
		rec.Key,
		string(rec.Status),
		string(rec.PaymentType),
	)
	if err != nil && isUniqueViolation(err) {
		return ErrEscrowStateConflict
	}
	return err
}

// FindEscrowRecordByIntentID retrieves the escrow mirror for an intent.
func (r *PostgresRepository) FindEscrowRecordByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.EscrowRecord, error) {
	var (
		rec         domain.EscrowRecord
		payer       string
		receiver    string
		token       string
		status      string
		paymentType string
	)
	query := `
		SELECT id, intent_id, payer, receiver, token, amount, captured_amount,
		       nonce, escrow_key, status, payment_type, created_at, updated_at
		FROM escrow_records
		WHERE intent_id = $1
	`
	err := r.db.QueryRow(ctx, query, intentID).Scan(
		&rec.ID,
		&rec.IntentID,
		&payer,
		&receiver,
		&token,
		&rec.Amount,
		&rec.CapturedAmount,
		&rec.Nonce,
		&rec.Key,
		&status,
		&paymentType,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEscrowRecordNotFound
		}
		return nil, err
	}
	rec.Payer = common.HexToAddress(payer)
	rec.Receiver = common.HexToAddress(receiver)
	rec.Token = common.HexToAddress(token)
	rec.Status = domain.EscrowStatus(status)
	rec.PaymentType = domain.PaymentType(paymentType)
	return &rec, nil
}

// TransitionEscrowStatus applies a state-machine transition. `capturedAmount`
// is only written when moving to captured; pass 0 otherwise.
func (r *PostgresRepository) TransitionEscrowStatus(ctx context.Context, escrowID uuid.UUID, from []domain.EscrowStatus, to domain.EscrowStatus, capturedAmount int64) error {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	query := `
		UPDATE escrow_records
		SET status = $2,
		    captured_amount = CASE WHEN $3::bigint > 0 THEN $3 ELSE captured_amount END,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`
	result, err := r.db.Exec(ctx, query, escrowID, string(to), capturedAmount, allowed)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if scanErr := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM escrow_records WHERE id = $1)`, escrowID).Scan(&exists); scanErr != nil {
			return scanErr
		}
		if !exists {
			return ErrEscrowRecordNotFound
		}
		return ErrEscrowStateConflict
	}
	return nil
}
