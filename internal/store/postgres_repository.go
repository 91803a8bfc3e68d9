/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface for payment intents and signature records. It contains the SQL
 * queries for the `payment_intents` and `intent_signatures` tables.
 *
 * Escrow, refund and renewal queries live in their own files alongside this
 * one; they share the same `PostgresRepository` receiver.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanvault/payment-engine/internal/domain"
)

var (
	ErrIntentNotFound             = errors.New("payment intent not found")
	ErrIntentAlreadyExists        = errors.New("payment intent already exists")
	ErrIntentAlreadyProcessed     = errors.New("payment intent already processed")
	ErrSignatureRecordNotFound    = errors.New("signature record not found")
	ErrSignatureAlreadyPrepared   = errors.New("signature record already prepared")
	ErrSignatureStateConflict     = errors.New("signature record in conflicting state")
	ErrEscrowRecordNotFound       = errors.New("escrow record not found")
	ErrEscrowStateConflict        = errors.New("escrow state transition not allowed")
	ErrRefundAlreadyRequested     = errors.New("refund already requested for intent")
	ErrRefundRequestNotFound      = errors.New("refund request not found")
	ErrRefundAlreadyProcessed     = errors.New("refund request already processed")
	ErrRefundPoolUnderfunded      = errors.New("refund pool balance insufficient")
	ErrRenewalConfigNotFound      = errors.New("auto-renewal config not found")
	ErrInsufficientRenewalBalance = errors.New("auto-renewal balance insufficient")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CreatePaymentIntent persists a new intent with processed=false.
func (r *PostgresRepository) CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (
			id, payer, creator, payment_type, content_id, payment_token,
			expected_amount, platform_fee, creator_amount, operator_fee,
			deadline, processed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		intent.ID,
		intent.Payer.Hex(),
		intent.Creator.Hex(),
		string(intent.PaymentType),
		intent.ContentID,
		intent.PaymentToken.Hex(),
		intent.ExpectedAmount,
		intent.PlatformFee,
		intent.CreatorAmount,
		intent.OperatorFee,
		intent.Deadline,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIntentAlreadyExists
		}
		return err
	}
	return nil
}

// FindPaymentIntentByID retrieves an intent by its identifier.
func (r *PostgresRepository) FindPaymentIntentByID(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	var (
		intent       domain.PaymentIntent
		payer        string
		creator      string
		paymentType  string
		paymentToken string
	)
	query := `
		SELECT id, payer, creator, payment_type, content_id, payment_token,
		       expected_amount, platform_fee, creator_amount, operator_fee,
		       deadline, processed, created_at
		FROM payment_intents
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, intentID).Scan(
		&intent.ID,
		&payer,
		&creator,
		&paymentType,
		&intent.ContentID,
		&paymentToken,
		&intent.ExpectedAmount,
		&intent.PlatformFee,
		&intent.CreatorAmount,
		&intent.OperatorFee,
		&intent.Deadline,
		&intent.Processed,
		&intent.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	intent.Payer = common.HexToAddress(payer)
	intent.Creator = common.HexToAddress(creator)
	intent.PaymentType = domain.PaymentType(paymentType)
	intent.PaymentToken = common.HexToAddress(paymentToken)
	return &intent, nil
}

// MarkIntentProcessed flips processed false→true exactly once.
func (r *PostgresRepository) MarkIntentProcessed(ctx context.Context, intentID uuid.UUID) error {
	query := `UPDATE payment_intents SET processed = true WHERE id = $1 AND processed = false`
	result, err := r.db.Exec(ctx, query, intentID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Either missing or already processed; distinguish for the caller.
		var processed bool
		if scanErr := r.db.QueryRow(ctx, `SELECT processed FROM payment_intents WHERE id = $1`, intentID).Scan(&processed); scanErr != nil {
			if scanErr == pgx.ErrNoRows {
				return ErrIntentNotFound
			}
			return scanErr
		}
		return ErrIntentAlreadyProcessed
	}
	return nil
}

// CreateSignatureRecord inserts the prepared record for an intent. One record
// per intent; a duplicate prepare fails rather than overwriting.
func (r *PostgresRepository) CreateSignatureRecord(ctx context.Context, rec *domain.IntentSignatureRecord) error {
	query := `
		INSERT INTO intent_signatures (intent_id, digest, signature, signer, status, created_at, updated_at)
		VALUES ($1, $2, NULL, NULL, $3, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, rec.IntentID, rec.Digest, string(rec.Status))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSignatureAlreadyPrepared
		}
		return err
	}
	return nil
}

// FindSignatureRecordByIntentID retrieves the signature record for an intent.
func (r *PostgresRepository) FindSignatureRecordByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.IntentSignatureRecord, error) {
	var (
		rec    domain.IntentSignatureRecord
		signer *string
		status string
	)
	query := `
		SELECT intent_id, digest, signature, signer, status, created_at, updated_at
		FROM intent_signatures
		WHERE intent_id = $1
	`
	err := r.db.QueryRow(ctx, query, intentID).Scan(
		&rec.IntentID,
		&rec.Digest,
		&rec.Signature,
		&signer,
		&status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSignatureRecordNotFound
		}
		return nil, err
	}
	if signer != nil {
		rec.Signer = common.HexToAddress(*signer)
	}
	rec.Status = domain.SignatureStatus(status)
	return &rec, nil
}

// AttachSignature stores the operator signature, awaiting_signature→signed.
func (r *PostgresRepository) AttachSignature(ctx context.Context, intentID uuid.UUID, signature []byte, signer common.Address) error {
	query := `
		UPDATE intent_signatures
		SET signature = $2, signer = $3, status = $4, updated_at = NOW()
		WHERE intent_id = $1 AND status = $5
	`
	result, err := r.db.Exec(ctx, query, intentID, signature, signer.Hex(),
		string(domain.SignatureStatusSigned), string(domain.SignatureStatusAwaiting))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		if _, findErr := r.FindSignatureRecordByIntentID(ctx, intentID); findErr != nil {
			return findErr
		}
		return ErrSignatureStateConflict
	}
	return nil
}

// ConsumeSignature clears the stored signature, signed→consumed, returning the
// record as of consumption. Reuse after consumption fails.
func (r *PostgresRepository) ConsumeSignature(ctx context.Context, intentID uuid.UUID) (*domain.IntentSignatureRecord, error) {
	var (
		rec    domain.IntentSignatureRecord
		signer *string
		status string
	)
	query := `
		UPDATE intent_signatures
		SET status = $2, signature = NULL, updated_at = NOW()
		WHERE intent_id = $1 AND status = $3
		RETURNING intent_id, digest, signature, signer, status, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, intentID,
		string(domain.SignatureStatusConsumed), string(domain.SignatureStatusSigned)).Scan(
		&rec.IntentID,
		&rec.Digest,
		&rec.Signature,
		&signer,
		&status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, findErr := r.FindSignatureRecordByIntentID(ctx, intentID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrSignatureStateConflict
		}
		return nil, err
	}
	if signer != nil {
		rec.Signer = common.HexToAddress(*signer)
	}
	rec.Status = domain.SignatureStatus(status)
	return &rec, nil
}

// RecordRoleGrant appends one entry to the role grant audit log.
func (r *PostgresRepository) RecordRoleGrant(ctx context.Context, grant *domain.RoleGrant) error {
	query := `
		INSERT INTO role_grants (id, role, principal, granted_by, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	_, err := r.db.Exec(ctx, query, grant.ID, string(grant.Role), grant.Principal, grant.GrantedBy, grant.Revoked)
	return err
}

// ListRoleGrants returns the most recent role grant audit entries.
func (r *PostgresRepository) ListRoleGrants(ctx context.Context, limit int) ([]domain.RoleGrant, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, role, principal, granted_by, revoked, created_at
		FROM role_grants
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.RoleGrant
	for rows.Next() {
		var (
			g    domain.RoleGrant
			role string
		)
		if err := rows.Scan(&g.ID, &role, &g.Principal, &g.GrantedBy, &g.Revoked, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Role = domain.Role(role)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
