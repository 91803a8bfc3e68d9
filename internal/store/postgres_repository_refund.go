/**
 * @description
 * PostgreSQL queries for the refund ledger: per-intent refund requests and the
 * shared refund pool. Processing a refund is a single transaction that checks
 * and debits the pool and flips the request's processed flag, so concurrent
 * refunds can never overdraw the pool.
 */

package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fanvault/payment-engine/internal/domain"
)

// CreateRefundRequest records a refund request; at most one per intent.
func (r *PostgresRepository) CreateRefundRequest(ctx context.Context, req *domain.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (intent_id, user_address, amount, reason, processed, requested_at)
		VALUES ($1, $2, $3, $4, false, NOW())
	`
	_, err := r.db.Exec(ctx, query, req.IntentID, req.User.Hex(), req.Amount, req.Reason)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRefundAlreadyRequested
		}
		return err
	}
	return nil
}

// FindRefundRequestByIntentID retrieves the refund request for an intent.
func (r *PostgresRepository) FindRefundRequestByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.RefundRequest, error) {
	var (
		req  domain.RefundRequest
		user string
	)
	query := `
		SELECT intent_id, user_address, amount, reason, processed, requested_at, processed_at
		FROM refund_requests
		WHERE intent_id = $1
	`
	err := r.db.QueryRow(ctx, query, intentID).Scan(
		&req.IntentID,
		&user,
		&req.Amount,
		&req.Reason,
		&req.Processed,
		&req.RequestedAt,
		&req.ProcessedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundRequestNotFound
		}
		return nil, err
	}
	req.User = common.HexToAddress(user)
	return &req, nil
}

// SettleRefundRequest atomically debits the pool and marks the request
// processed. The pool debit and the processed flip happen in one transaction;
// an underfunded pool leaves the request pending for a later retry.
func (r *PostgresRepository) SettleRefundRequest(ctx context.Context, intentID uuid.UUID) (*domain.RefundRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		req  domain.RefundRequest
		user string
	)
	err = tx.QueryRow(ctx, `
		SELECT intent_id, user_address, amount, reason, processed, requested_at, processed_at
		FROM refund_requests
		WHERE intent_id = $1
		FOR UPDATE
	`, intentID).Scan(
		&req.IntentID,
		&user,
		&req.Amount,
		&req.Reason,
		&req.Processed,
		&req.RequestedAt,
		&req.ProcessedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundRequestNotFound
		}
		return nil, err
	}
	req.User = common.HexToAddress(user)

	if req.Processed {
		return nil, ErrRefundAlreadyProcessed
	}

	// Check-then-debit under the same transaction so the pool never overdraws.
	debit, err := tx.Exec(ctx, `
		UPDATE refund_pool
		SET balance = balance - $1,
		    total_refunded = total_refunded + $1,
		    refund_count = refund_count + 1,
		    updated_at = NOW()
		WHERE balance >= $1
	`, req.Amount)
	if err != nil {
		return nil, err
	}
	if debit.RowsAffected() == 0 {
		return nil, ErrRefundPoolUnderfunded
	}

	err = tx.QueryRow(ctx, `
		UPDATE refund_requests
		SET processed = true, processed_at = NOW()
		WHERE intent_id = $1 AND processed = false
		RETURNING processed_at
	`, intentID).Scan(&req.ProcessedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundAlreadyProcessed
		}
		return nil, err
	}
	req.Processed = true

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &req, nil
}

// FundRefundPool credits the shared refund pool.
func (r *PostgresRepository) FundRefundPool(ctx context.Context, amount int64) error {
	_, err := r.db.Exec(ctx, `UPDATE refund_pool SET balance = balance + $1, updated_at = NOW()`, amount)
	return err
}

// GetRefundPoolStats returns pool balance and running refund totals.
func (r *PostgresRepository) GetRefundPoolStats(ctx context.Context) (*domain.RefundPoolStats, error) {
	var stats domain.RefundPoolStats
	err := r.db.QueryRow(ctx, `SELECT balance, total_refunded, refund_count FROM refund_pool`).Scan(
		&stats.Balance,
		&stats.TotalRefunded,
		&stats.RefundCount,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
