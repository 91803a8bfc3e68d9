/**
 * @description
 * Subscription auto-renewal logic. Users pre-fund a renewal balance per
 * creator with a price cap; the renewal bot extends lapsing subscriptions by
 * debiting that balance and paying the creator, as long as the creator's
 * current price is within the cap. A renewal that cannot proceed fails
 * explicitly and the subscription lapses naturally; nothing is silently
 * re-priced.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanvault/payment-engine/internal/admin"
	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/refund"
	"github.com/fanvault/payment-engine/internal/store"
	"github.com/fanvault/payment-engine/pkg/escrowclient"
	"github.com/fanvault/payment-engine/pkg/rabbitmq"
)

// subscriptionPeriod is how much access one subscription payment buys.
const subscriptionPeriod = 30 * 24 * time.Hour

var (
	ErrAutoRenewalDisabled  = errors.New("auto-renewal is not enabled for this creator")
	ErrRenewalPriceAboveCap = errors.New("creator price exceeds the configured renewal cap")
)

// RenewalPayer pays the creator's share out of the service's rail balance
// during a renewal. Satisfied by *escrowclient.Client.
type RenewalPayer interface {
	Payout(ctx context.Context, req escrowclient.PayoutRequest) (*escrowclient.OperationResponse, error)
}

// ConfigureAutoRenewal creates or updates the (user, creator) renewal config.
// A positive TopUp is collected from the user and added to the stored balance.
func (s *Service) ConfigureAutoRenewal(ctx context.Context, payload *domain.ConfigureRenewalPayload) (*domain.AutoRenewalConfig, error) {
	snap := s.admin.Snapshot()
	if snap.Paused {
		return nil, admin.ErrSystemPaused
	}
	if payload.User == (common.Address{}) || payload.Creator == (common.Address{}) {
		return nil, errors.New("user and creator must not be the zero address")
	}
	if payload.MaxPrice < 0 || payload.TopUp < 0 {
		return nil, errors.New("max price and top-up must not be negative")
	}

	// 1. Collect the top-up before touching stored state, so the balance only
	// ever reflects money the service actually holds.
	if payload.TopUp > 0 {
		if err := s.executor.Collect(ctx, payload.User, s.settlementToken, payload.TopUp, nil); err != nil {
			return nil, fmt.Errorf("failed to collect renewal top-up: %w", err)
		}
	}

	// 2. Persist. The top-up rides the upsert as a delta applied atomically in
	// the store, so a renewal debit racing this call is never clobbered.
	if err := s.repo.UpsertAutoRenewalConfig(ctx, &domain.AutoRenewalConfig{
		User:     payload.User,
		Creator:  payload.Creator,
		Enabled:  payload.Enabled,
		MaxPrice: payload.MaxPrice,
		Balance:  payload.TopUp,
	}); err != nil {
		return nil, err
	}
	cfg, err := s.repo.FindAutoRenewalConfig(ctx, payload.User, payload.Creator)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=renewal msg=\"auto-renewal configured\" user=%s creator=%s enabled=%t max_price=%d balance=%d",
		cfg.User.Hex(), cfg.Creator.Hex(), cfg.Enabled, cfg.MaxPrice, cfg.Balance)
	return cfg, nil
}

// ExecuteAutoRenewal extends one lapsing subscription. The actor must hold the
// renewal bot or admin role. Failure modes are explicit: disabled config,
// price above cap, insufficient balance.
func (s *Service) ExecuteAutoRenewal(ctx context.Context, actor string, user, creator common.Address) error {
	snap := s.admin.Snapshot()
	if snap.Paused {
		return admin.ErrSystemPaused
	}
	if !snap.HasRole(domain.RoleRenewalBot, actor) && !snap.HasRole(domain.RoleAdmin, actor) {
		return refund.ErrNotAuthorized
	}

	cfg, err := s.repo.FindAutoRenewalConfig(ctx, user, creator)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return ErrAutoRenewalDisabled
	}

	// 1. Price-cap check against the creator's current price, never the price
	// at configuration time.
	price, err := s.registry.GetCreatorPrice(ctx, creator)
	if err != nil {
		return fmt.Errorf("creator price lookup failed: %w", err)
	}
	if price > cfg.MaxPrice {
		s.publishRenewalEvent(ctx, user, creator, price, false, "price above cap")
		return fmt.Errorf("%w: price=%d cap=%d", ErrRenewalPriceAboveCap, price, cfg.MaxPrice)
	}

	// 2. Debit the pre-funded balance. Compare-and-set in the store, so two
	// racing bots cannot spend the same balance.
	if err := s.repo.DebitRenewalBalance(ctx, user, creator, price); err != nil {
		if errors.Is(err, store.ErrInsufficientRenewalBalance) {
			s.publishRenewalEvent(ctx, user, creator, price, false, "insufficient renewal balance")
		}
		return err
	}

	// 3. Pay the creator their share; the fee portions stay with the service.
	_, _, creatorAmount := splitFees(price, snap.Fees)
	if _, err := s.rail.Payout(ctx, escrowclient.PayoutRequest{
		To:     creator.Hex(),
		Token:  s.settlementToken.Hex(),
		Amount: creatorAmount,
		Memo:   fmt.Sprintf("subscription renewal for %s", user.Hex()),
	}); err != nil {
		// Credit the debited amount back so the renewal can be retried on the
		// next sweep. Additive, so a top-up landing mid-payout survives.
		if rbErr := s.repo.CreditRenewalBalance(ctx, user, creator, price); rbErr != nil {
			log.Printf("level=error component=renewal msg=\"balance restore failed after payout failure\" user=%s creator=%s err=%v",
				user.Hex(), creator.Hex(), rbErr)
		}
		return fmt.Errorf("renewal payout failed: %w", err)
	}

	// 4. Extend access. A lapsed subscription restarts from now, an active one
	// extends from its current end.
	base := cfg.SubscriptionEnd
	if now := time.Now(); base.Before(now) {
		base = now
	}
	newEnd := base.Add(subscriptionPeriod)
	if err := s.repo.ExtendSubscriptionEnd(ctx, user, creator, newEnd); err != nil {
		return err
	}
	if err := s.registry.GrantSubscriptionAccess(ctx, creator, user, newEnd); err != nil {
		log.Printf("level=error component=renewal msg=\"registry subscription grant failed\" user=%s creator=%s err=%v",
			user.Hex(), creator.Hex(), err)
		return err
	}
	if err := s.registry.RecordEarnings(ctx, creator, creatorAmount, "subscription_renewal"); err != nil {
		log.Printf("level=warn component=renewal msg=\"earnings recording failed\" creator=%s err=%v", creator.Hex(), err)
	}

	s.publishRenewalEvent(ctx, user, creator, price, true, "")
	log.Printf("level=info component=renewal msg=\"subscription renewed\" user=%s creator=%s price=%d new_end=%s",
		user.Hex(), creator.Hex(), price, newEnd.UTC().Format(time.RFC3339))
	return nil
}

// RenewalsDue lists enabled configs whose subscription lapses before the given
// time. Used by the scheduler's renewal sweep.
func (s *Service) RenewalsDue(ctx context.Context, before time.Time, limit int) ([]domain.AutoRenewalConfig, error) {
	return s.repo.ListDueAutoRenewals(ctx, before, limit)
}

// CleanupExpiredSubscriptions drops lapsed entries from the active-subscriber
// index. Renewal configs and historical earnings are untouched.
func (s *Service) CleanupExpiredSubscriptions(ctx context.Context) (int64, error) {
	removed, err := s.repo.CleanupExpiredSubscriptions(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Printf("level=info component=renewal msg=\"expired subscriptions cleaned up\" removed=%d", removed)
	}
	return removed, nil
}

func (s *Service) publishRenewalEvent(ctx context.Context, user, creator common.Address, amount int64, success bool, reason string) {
	if s.producer == nil {
		return
	}
	err := s.producer.PublishRenewalEvent(ctx, rabbitmq.RenewalEvent{
		User:      user.Hex(),
		Creator:   creator.Hex(),
		Amount:    amount,
		Success:   success,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("level=warn component=renewal msg=\"renewal event publish failed\" user=%s creator=%s err=%v", user.Hex(), creator.Hex(), err)
	}
}
