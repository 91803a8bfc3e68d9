/**
 * @description
 * PostgreSQL queries for subscription auto-renewal configs and the
 * active-subscriber index. Renewal balance debits are compare-and-set so a
 * racing renewal bot cannot spend the same pre-funded balance twice.
 */

package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/fanvault/payment-engine/internal/domain"
)

// UpsertAutoRenewalConfig creates or updates the (user, creator) config. The
// balance on cfg is a delta added to the stored balance rather than replacing
// it, so a renewal debit racing this call is never lost. The stored
// subscription end survives updates.
func (r *PostgresRepository) UpsertAutoRenewalConfig(ctx context.Context, cfg *domain.AutoRenewalConfig) error {
	query := `
		INSERT INTO auto_renewal_configs (user_address, creator, enabled, max_price, balance, subscription_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_address, creator) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			max_price = EXCLUDED.max_price,
			balance = auto_renewal_configs.balance + EXCLUDED.balance,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		cfg.User.Hex(),
		cfg.Creator.Hex(),
		cfg.Enabled,
		cfg.MaxPrice,
		cfg.Balance,
		cfg.SubscriptionEnd,
	)
	return err
}

// FindAutoRenewalConfig retrieves the config for a (user, creator) pair.
func (r *PostgresRepository) FindAutoRenewalConfig(ctx context.Context, user, creator common.Address) (*domain.AutoRenewalConfig, error) {
	var (
		cfg        domain.AutoRenewalConfig
		userHex    string
		creatorHex string
	)
	query := `
		SELECT user_address, creator, enabled, max_price, balance, subscription_end, updated_at
		FROM auto_renewal_configs
		WHERE user_address = $1 AND creator = $2
	`
	err := r.db.QueryRow(ctx, query, user.Hex(), creator.Hex()).Scan(
		&userHex,
		&creatorHex,
		&cfg.Enabled,
		&cfg.MaxPrice,
		&cfg.Balance,
		&cfg.SubscriptionEnd,
		&cfg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRenewalConfigNotFound
		}
		return nil, err
	}
	cfg.User = common.HexToAddress(userHex)
	cfg.Creator = common.HexToAddress(creatorHex)
	return &cfg, nil
}

// CreditRenewalBalance adds amount to the stored balance. Used to restore a
// debit after a failed payout without touching the rest of the row.
func (r *PostgresRepository) CreditRenewalBalance(ctx context.Context, user, creator common.Address, amount int64) error {
	query := `
		UPDATE auto_renewal_configs
		SET balance = balance + $3, updated_at = NOW()
		WHERE user_address = $1 AND creator = $2
	`
	result, err := r.db.Exec(ctx, query, user.Hex(), creator.Hex(), amount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRenewalConfigNotFound
	}
	return nil
}

// DebitRenewalBalance spends from the pre-funded balance, failing if it does
// not cover the amount.
func (r *PostgresRepository) DebitRenewalBalance(ctx context.Context, user, creator common.Address, amount int64) error {
	query := `
		UPDATE auto_renewal_configs
		SET balance = balance - $3, updated_at = NOW()
		WHERE user_address = $1 AND creator = $2 AND balance >= $3
	`
	result, err := r.db.Exec(ctx, query, user.Hex(), creator.Hex(), amount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		if _, findErr := r.FindAutoRenewalConfig(ctx, user, creator); findErr != nil {
			return findErr
		}
		return ErrInsufficientRenewalBalance
	}
	return nil
}

// ExtendSubscriptionEnd pushes the subscription end time forward and refreshes
// the active-subscriber index entry.
func (r *PostgresRepository) ExtendSubscriptionEnd(ctx context.Context, user, creator common.Address, newEnd time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE auto_renewal_configs
		SET subscription_end = $3, updated_at = NOW()
		WHERE user_address = $1 AND creator = $2
	`, user.Hex(), creator.Hex(), newEnd)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRenewalConfigNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO active_subscriptions (user_address, creator, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_address, creator) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, user.Hex(), creator.Hex(), newEnd)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListDueAutoRenewals returns enabled configs whose subscription lapses before
// the given time, for the renewal bot to act on.
func (r *PostgresRepository) ListDueAutoRenewals(ctx context.Context, before time.Time, limit int) ([]domain.AutoRenewalConfig, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT user_address, creator, enabled, max_price, balance, subscription_end, updated_at
		FROM auto_renewal_configs
		WHERE enabled = true AND subscription_end <= $1
		ORDER BY subscription_end ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []domain.AutoRenewalConfig
	for rows.Next() {
		var (
			cfg        domain.AutoRenewalConfig
			userHex    string
			creatorHex string
		)
		if err := rows.Scan(&userHex, &creatorHex, &cfg.Enabled, &cfg.MaxPrice, &cfg.Balance, &cfg.SubscriptionEnd, &cfg.UpdatedAt); err != nil {
			return nil, err
		}
		cfg.User = common.HexToAddress(userHex)
		cfg.Creator = common.HexToAddress(creatorHex)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// CleanupExpiredSubscriptions removes lapsed entries from the
// active-subscriber index. Renewal configs and historical counters stay.
func (r *PostgresRepository) CleanupExpiredSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM active_subscriptions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
