package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/refund"
	"github.com/fanvault/payment-engine/internal/store"
)

const botActor = "renewal-bot-1"

func (h *harness) grantRenewalBot(t *testing.T) {
	t.Helper()
	if err := h.admin.GrantRole(context.Background(), adminActor, domain.RoleRenewalBot, botActor); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
}

func (h *harness) configureRenewal(t *testing.T, maxPrice, topUp int64) *domain.AutoRenewalConfig {
	t.Helper()
	cfg, err := h.service.ConfigureAutoRenewal(context.Background(), &domain.ConfigureRenewalPayload{
		User:     payerAddr,
		Creator:  creatorAddr,
		Enabled:  true,
		MaxPrice: maxPrice,
		TopUp:    topUp,
	})
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	return cfg
}

func TestConfigureRenewalCollectsTopUp(t *testing.T) {
	h := newHarness(t)
	cfg := h.configureRenewal(t, 600_000, 2_000_000)

	if cfg.Balance != 2_000_000 {
		t.Fatalf("expected balance 2000000, got %d", cfg.Balance)
	}
	if len(h.rail.collectCalls) != 1 || h.rail.collectCalls[0].Amount != 2_000_000 {
		t.Fatalf("expected the top-up to be collected, got %+v", h.rail.collectCalls)
	}

	// Top-ups are additive.
	cfg = h.configureRenewal(t, 600_000, 500_000)
	if cfg.Balance != 2_500_000 {
		t.Fatalf("expected balance 2500000 after second top-up, got %d", cfg.Balance)
	}
}

func TestConfigureRenewalCollectionFailure(t *testing.T) {
	h := newHarness(t)
	h.rail.failOps["collect"] = true

	_, err := h.service.ConfigureAutoRenewal(context.Background(), &domain.ConfigureRenewalPayload{
		User:     payerAddr,
		Creator:  creatorAddr,
		Enabled:  true,
		MaxPrice: 600_000,
		TopUp:    2_000_000,
	})
	if err == nil {
		t.Fatal("expected error when top-up collection fails")
	}
	// No config may record a balance the service never collected.
	if _, findErr := h.repo.FindAutoRenewalConfig(context.Background(), payerAddr, creatorAddr); !errors.Is(findErr, store.ErrRenewalConfigNotFound) {
		t.Fatal("config must not exist after a failed top-up")
	}
}

func TestExecuteAutoRenewalRequiresRole(t *testing.T) {
	h := newHarness(t)
	h.configureRenewal(t, 600_000, 2_000_000)

	err := h.service.ExecuteAutoRenewal(context.Background(), "random-user", payerAddr, creatorAddr)
	if !errors.Is(err, refund.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestExecuteAutoRenewalHappyPath(t *testing.T) {
	h := newHarness(t)
	h.grantRenewalBot(t)
	h.configureRenewal(t, 600_000, 2_000_000) // creator price is 500_000

	if err := h.service.ExecuteAutoRenewal(context.Background(), botActor, payerAddr, creatorAddr); err != nil {
		t.Fatalf("renewal failed: %v", err)
	}

	cfg, _ := h.repo.FindAutoRenewalConfig(context.Background(), payerAddr, creatorAddr)
	if cfg.Balance != 1_500_000 {
		t.Fatalf("expected balance debited to 1500000, got %d", cfg.Balance)
	}
	if cfg.SubscriptionEnd.Before(time.Now().Add(29 * 24 * time.Hour)) {
		t.Fatalf("expected subscription extended ~30 days, got %s", cfg.SubscriptionEnd)
	}

	// Creator gets the post-fee share of the 500_000 price: 500000 - 12500 - 2500.
	if len(h.rail.payoutCalls) != 1 {
		t.Fatalf("expected one payout, got %d", len(h.rail.payoutCalls))
	}
	if h.rail.payoutCalls[0].Amount != 485_000 {
		t.Fatalf("expected creator payout 485000, got %d", h.rail.payoutCalls[0].Amount)
	}
	if len(h.registry.subGrants) != 1 {
		t.Fatalf("expected one subscription grant, got %d", len(h.registry.subGrants))
	}
	if len(h.producer.renewals) != 1 || !h.producer.renewals[0].Success {
		t.Fatalf("expected a success renewal event, got %+v", h.producer.renewals)
	}
}

func TestExecuteAutoRenewalPriceAboveCap(t *testing.T) {
	h := newHarness(t)
	h.grantRenewalBot(t)
	h.configureRenewal(t, 400_000, 2_000_000) // cap below the 500_000 price

	err := h.service.ExecuteAutoRenewal(context.Background(), botActor, payerAddr, creatorAddr)
	if !errors.Is(err, ErrRenewalPriceAboveCap) {
		t.Fatalf("expected ErrRenewalPriceAboveCap, got %v", err)
	}

	// Nothing may be debited or granted; the subscription lapses naturally.
	cfg, _ := h.repo.FindAutoRenewalConfig(context.Background(), payerAddr, creatorAddr)
	if cfg.Balance != 2_000_000 {
		t.Fatalf("balance must be untouched, got %d", cfg.Balance)
	}
	if len(h.rail.payoutCalls) != 0 || len(h.registry.subGrants) != 0 {
		t.Fatal("no payout or grant may happen above the price cap")
	}
	if len(h.producer.renewals) != 1 || h.producer.renewals[0].Success {
		t.Fatalf("expected an explicit failure event, got %+v", h.producer.renewals)
	}
}

func TestExecuteAutoRenewalInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.grantRenewalBot(t)
	h.configureRenewal(t, 600_000, 100_000) // below the 500_000 price

	err := h.service.ExecuteAutoRenewal(context.Background(), botActor, payerAddr, creatorAddr)
	if !errors.Is(err, store.ErrInsufficientRenewalBalance) {
		t.Fatalf("expected ErrInsufficientRenewalBalance, got %v", err)
	}
	if len(h.registry.subGrants) != 0 {
		t.Fatal("no grant may happen without balance")
	}
}

func TestExecuteAutoRenewalDisabled(t *testing.T) {
	h := newHarness(t)
	h.grantRenewalBot(t)
	h.configureRenewal(t, 600_000, 2_000_000)

	// Disabling keeps the stored balance.
	cfg, err := h.service.ConfigureAutoRenewal(context.Background(), &domain.ConfigureRenewalPayload{
		User:     payerAddr,
		Creator:  creatorAddr,
		Enabled:  false,
		MaxPrice: 600_000,
	})
	if err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if cfg.Balance != 2_000_000 {
		t.Fatalf("disabling must not touch the balance, got %d", cfg.Balance)
	}

	err = h.service.ExecuteAutoRenewal(context.Background(), botActor, payerAddr, creatorAddr)
	if !errors.Is(err, ErrAutoRenewalDisabled) {
		t.Fatalf("expected ErrAutoRenewalDisabled, got %v", err)
	}
}

func TestExecuteAutoRenewalPayoutFailureRestoresBalance(t *testing.T) {
	h := newHarness(t)
	h.grantRenewalBot(t)
	h.configureRenewal(t, 600_000, 2_000_000) // creator price is 500_000
	h.rail.failOps["payout"] = true
	// A top-up lands while the payout is in flight; the restore must add the
	// debit back rather than rewrite the whole row.
	h.rail.onPayout = func() {
		if err := h.repo.CreditRenewalBalance(context.Background(), payerAddr, creatorAddr, 300_000); err != nil {
			t.Errorf("mid-payout top-up failed: %v", err)
		}
	}

	err := h.service.ExecuteAutoRenewal(context.Background(), botActor, payerAddr, creatorAddr)
	if err == nil {
		t.Fatal("expected error when the payout fails")
	}

	cfg, findErr := h.repo.FindAutoRenewalConfig(context.Background(), payerAddr, creatorAddr)
	if findErr != nil {
		t.Fatalf("config lookup failed: %v", findErr)
	}
	// 2000000 - 500000 debit + 300000 top-up + 500000 restored.
	if cfg.Balance != 2_300_000 {
		t.Fatalf("expected balance 2300000 after restore, got %d", cfg.Balance)
	}
	if len(h.registry.subGrants) != 0 {
		t.Fatal("no grant may happen when the payout fails")
	}
}

func TestRenewalsDueAndCleanup(t *testing.T) {
	h := newHarness(t)
	h.grantRenewalBot(t)
	h.configureRenewal(t, 600_000, 2_000_000)
	ctx := context.Background()

	// A fresh config has a zero subscription end, so it is due immediately.
	due, err := h.service.RenewalsDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("due list failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected one due renewal, got %d", len(due))
	}

	if err := h.service.ExecuteAutoRenewal(ctx, botActor, payerAddr, creatorAddr); err != nil {
		t.Fatalf("renewal failed: %v", err)
	}
	due, _ = h.service.RenewalsDue(ctx, time.Now(), 10)
	if len(due) != 0 {
		t.Fatalf("expected no due renewals after renewing, got %d", len(due))
	}

	// Force the active entry into the past and sweep it.
	h.repo.mu.Lock()
	h.repo.active[renewalKey(payerAddr, creatorAddr)] = time.Now().Add(-time.Hour)
	h.repo.mu.Unlock()

	removed, err := h.service.CleanupExpiredSubscriptions(ctx)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed entry, got %d", removed)
	}

	// Config and balance survive the cleanup.
	cfg, err := h.repo.FindAutoRenewalConfig(ctx, payerAddr, creatorAddr)
	if err != nil {
		t.Fatalf("config must survive cleanup: %v", err)
	}
	if cfg.Balance != 1_500_000 {
		t.Fatalf("balance must survive cleanup, got %d", cfg.Balance)
	}
}
