package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanvault/payment-engine/internal/domain"
)

const bootstrapAdmin = "root-admin"

func validFees() domain.FeeConfig {
	return domain.FeeConfig{
		PlatformFeeBps:      250,
		OperatorFeeBps:      50,
		PlatformDestination: common.HexToAddress("0x4444444444444444444444444444444444444444"),
		OperatorDestination: common.HexToAddress("0x5555555555555555555555555555555555555555"),
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(validFees(), RegistryEndpoints{}, bootstrapAdmin, nil, nil)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func TestNewManagerRejectsBadFees(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*domain.FeeConfig)
		wantErr error
	}{
		{
			name:    "platform fee above cap",
			mutate:  func(f *domain.FeeConfig) { f.PlatformFeeBps = MaxPlatformFeeBps + 1 },
			wantErr: ErrFeeRateOutOfRange,
		},
		{
			name:    "operator fee above cap",
			mutate:  func(f *domain.FeeConfig) { f.OperatorFeeBps = MaxOperatorFeeBps + 1 },
			wantErr: ErrFeeRateOutOfRange,
		},
		{
			name:    "negative platform fee",
			mutate:  func(f *domain.FeeConfig) { f.PlatformFeeBps = -1 },
			wantErr: ErrFeeRateOutOfRange,
		},
		{
			name:    "zero platform destination",
			mutate:  func(f *domain.FeeConfig) { f.PlatformDestination = common.Address{} },
			wantErr: ErrZeroDestination,
		},
		{
			name:    "zero operator destination",
			mutate:  func(f *domain.FeeConfig) { f.OperatorDestination = common.Address{} },
			wantErr: ErrZeroDestination,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fees := validFees()
			tc.mutate(&fees)
			_, err := NewManager(fees, RegistryEndpoints{}, bootstrapAdmin, nil, nil)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSetFeeConfigRequiresAdmin(t *testing.T) {
	m := newTestManager(t)
	err := m.SetFeeConfig("random-user", validFees())
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSetFeeConfigBoundary(t *testing.T) {
	m := newTestManager(t)

	fees := validFees()
	fees.PlatformFeeBps = MaxPlatformFeeBps
	fees.OperatorFeeBps = MaxOperatorFeeBps
	if err := m.SetFeeConfig(bootstrapAdmin, fees); err != nil {
		t.Fatalf("exact cap must be accepted, got %v", err)
	}

	fees.PlatformFeeBps = MaxPlatformFeeBps + 1
	if err := m.SetFeeConfig(bootstrapAdmin, fees); !errors.Is(err, ErrFeeRateOutOfRange) {
		t.Fatalf("expected ErrFeeRateOutOfRange, got %v", err)
	}
}

func TestSignerSetMutations(t *testing.T) {
	m := newTestManager(t)
	signer := common.HexToAddress("0x7777777777777777777777777777777777777777")

	if err := m.AddSigner(bootstrapAdmin, common.Address{}); !errors.Is(err, ErrZeroSigner) {
		t.Fatalf("expected ErrZeroSigner, got %v", err)
	}
	if err := m.AddSigner("random-user", signer); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	if err := m.AddSigner(bootstrapAdmin, signer); err != nil {
		t.Fatalf("add signer failed: %v", err)
	}
	if !m.Snapshot().IsAuthorizedSigner(signer) {
		t.Fatal("expected signer to be authorized after add")
	}

	if err := m.RemoveSigner(bootstrapAdmin, signer); err != nil {
		t.Fatalf("remove signer failed: %v", err)
	}
	if m.Snapshot().IsAuthorizedSigner(signer) {
		t.Fatal("expected signer to be removed")
	}
}

func TestRoleGrantAndRevoke(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.GrantRole(ctx, "random-user", domain.RoleMonitor, "ops-bot"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := m.GrantRole(ctx, bootstrapAdmin, domain.Role("bogus"), "ops-bot"); err == nil {
		t.Fatal("expected error for unknown role")
	}

	if err := m.GrantRole(ctx, bootstrapAdmin, domain.RoleMonitor, "ops-bot"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if !m.Snapshot().HasRole(domain.RoleMonitor, "ops-bot") {
		t.Fatal("expected granted role to be visible")
	}

	if err := m.RevokeRole(ctx, bootstrapAdmin, domain.RoleMonitor, "ops-bot"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if m.Snapshot().HasRole(domain.RoleMonitor, "ops-bot") {
		t.Fatal("expected revoked role to be gone")
	}
}

func TestPauseUnpause(t *testing.T) {
	m := newTestManager(t)

	if err := m.Pause("random-user"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := m.Pause(bootstrapAdmin); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !m.Snapshot().Paused {
		t.Fatal("expected paused snapshot")
	}
	if err := m.Unpause(bootstrapAdmin); err != nil {
		t.Fatalf("unpause failed: %v", err)
	}
	if m.Snapshot().Paused {
		t.Fatal("expected unpaused snapshot")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	m := newTestManager(t)
	signer := common.HexToAddress("0x7777777777777777777777777777777777777777")
	if err := m.AddSigner(bootstrapAdmin, signer); err != nil {
		t.Fatalf("add signer failed: %v", err)
	}

	snap := m.Snapshot()
	version := snap.Version

	// Mutations after the snapshot must not leak into it.
	if err := m.RemoveSigner(bootstrapAdmin, signer); err != nil {
		t.Fatalf("remove signer failed: %v", err)
	}
	newFees := validFees()
	newFees.PlatformFeeBps = 100
	if err := m.SetFeeConfig(bootstrapAdmin, newFees); err != nil {
		t.Fatalf("set fees failed: %v", err)
	}

	if !snap.IsAuthorizedSigner(signer) {
		t.Fatal("snapshot must retain the signer set captured at snapshot time")
	}
	if snap.Fees.PlatformFeeBps != 250 {
		t.Fatalf("snapshot fees mutated: got %d bps", snap.Fees.PlatformFeeBps)
	}
	if snap.Version != version {
		t.Fatal("snapshot version must be immutable")
	}

	fresh := m.Snapshot()
	if fresh.Version <= version {
		t.Fatalf("expected version to advance, got %d after %d", fresh.Version, version)
	}
	if fresh.IsAuthorizedSigner(signer) {
		t.Fatal("fresh snapshot must reflect signer removal")
	}
}

func TestEmergencyTokenRecoveryValidation(t *testing.T) {
	m := newTestManager(t)
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")
	safe := common.HexToAddress("0x8888888888888888888888888888888888888888")
	ctx := context.Background()

	if err := m.EmergencyTokenRecovery(ctx, bootstrapAdmin, token, common.Address{}, 100); !errors.Is(err, ErrZeroDestination) {
		t.Fatalf("expected ErrZeroDestination, got %v", err)
	}
	if err := m.EmergencyTokenRecovery(ctx, bootstrapAdmin, token, safe, 0); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
	if err := m.EmergencyTokenRecovery(ctx, "random-user", token, safe, 100); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}
