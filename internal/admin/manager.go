/**
 * @description
 * The admin manager owns the mutable protocol parameters: fee rates and
 * destinations, the authorized operator signer set, downstream registry
 * pointers, role grants and the global pause flag. All mutations are
 * restricted to principals holding the admin role and are re-checked here, at
 * this manager's boundary, regardless of who the caller is upstream.
 *
 * Reads hand out immutable `Snapshot` values with a monotonic version, so an
 * operation captures the configuration at call time and a concurrent admin
 * mutation can never alter the values the operation is already working with.
 *
 * @dependencies
 * - sync: Guards the mutable state.
 * - internal/domain, internal/store: Models and the role-grant audit log.
 */

package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/store"
)

const (
	MaxPlatformFeeBps = 2500 // 25%
	MaxOperatorFeeBps = 1000 // 10%
)

var (
	ErrNotAuthorized     = errors.New("principal does not hold the required role")
	ErrFeeRateOutOfRange = errors.New("fee rate out of range")
	ErrZeroDestination   = errors.New("fee destination must not be the zero address")
	ErrSystemPaused      = errors.New("system is paused")
	ErrZeroSigner        = errors.New("signer must not be the zero address")
)

// TokenRecoverer sweeps tokens stuck in a manager contract to a safe
// destination. Implemented by the escrow rail client.
type TokenRecoverer interface {
	RecoverTokens(ctx context.Context, token, to common.Address, amount int64) error
}

// Snapshot is an immutable view of the configuration at a point in time.
// Operations read from a snapshot captured at call start, never from ambient
// mutable state.
type Snapshot struct {
	Version  uint64
	Paused   bool
	Fees     domain.FeeConfig
	signers  map[common.Address]bool
	roles    map[domain.Role]map[string]bool
	Registry RegistryEndpoints
}

// RegistryEndpoints points at the downstream creator/content registries.
type RegistryEndpoints struct {
	CreatorRegistryURL string
	ContentRegistryURL string
}

// IsAuthorizedSigner reports whether addr is in the operator signer set.
func (s Snapshot) IsAuthorizedSigner(addr common.Address) bool {
	return s.signers[addr]
}

// HasRole reports whether the principal holds the role.
func (s Snapshot) HasRole(role domain.Role, principal string) bool {
	set, ok := s.roles[role]
	return ok && set[principal]
}

// Manager holds the mutable configuration behind a mutex.
type Manager struct {
	mu        sync.RWMutex
	version   uint64
	paused    bool
	fees      domain.FeeConfig
	signers   map[common.Address]bool
	roles     map[domain.Role]map[string]bool
	registry  RegistryEndpoints
	repo      store.Repository
	recoverer TokenRecoverer
}

// NewManager creates the manager with the initial fee configuration and a
// bootstrap admin principal. The audit repository may be nil in tests.
func NewManager(fees domain.FeeConfig, registry RegistryEndpoints, bootstrapAdmin string, repo store.Repository, recoverer TokenRecoverer) (*Manager, error) {
	if err := validateFees(fees); err != nil {
		return nil, err
	}
	m := &Manager{
		version:   1,
		fees:      fees,
		signers:   make(map[common.Address]bool),
		roles:     make(map[domain.Role]map[string]bool),
		registry:  registry,
		repo:      repo,
		recoverer: recoverer,
	}
	m.roles[domain.RoleAdmin] = map[string]bool{bootstrapAdmin: true}
	return m, nil
}

func validateFees(fees domain.FeeConfig) error {
	if fees.PlatformFeeBps < 0 || fees.PlatformFeeBps > MaxPlatformFeeBps {
		return fmt.Errorf("%w: platform fee %d bps", ErrFeeRateOutOfRange, fees.PlatformFeeBps)
	}
	if fees.OperatorFeeBps < 0 || fees.OperatorFeeBps > MaxOperatorFeeBps {
		return fmt.Errorf("%w: operator fee %d bps", ErrFeeRateOutOfRange, fees.OperatorFeeBps)
	}
	if fees.PlatformDestination == (common.Address{}) || fees.OperatorDestination == (common.Address{}) {
		return ErrZeroDestination
	}
	return nil
}

// Snapshot returns an immutable copy of the current configuration.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	signers := make(map[common.Address]bool, len(m.signers))
	for k, v := range m.signers {
		signers[k] = v
	}
	roles := make(map[domain.Role]map[string]bool, len(m.roles))
	for role, set := range m.roles {
		copied := make(map[string]bool, len(set))
		for p, v := range set {
			copied[p] = v
		}
		roles[role] = copied
	}
	return Snapshot{
		Version:  m.version,
		Paused:   m.paused,
		Fees:     m.fees,
		signers:  signers,
		roles:    roles,
		Registry: m.registry,
	}
}

func (m *Manager) requireAdmin(actor string) error {
	set, ok := m.roles[domain.RoleAdmin]
	if !ok || !set[actor] {
		return ErrNotAuthorized
	}
	return nil
}

// SetFeeConfig replaces the fee configuration. Already-created intents keep
// the fee amounts fixed at their creation time.
func (m *Manager) SetFeeConfig(actor string, fees domain.FeeConfig) error {
	if err := validateFees(fees); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(actor); err != nil {
		return err
	}
	m.fees = fees
	m.version++
	log.Printf("level=info component=admin msg=\"fee config updated\" actor=%s platform_bps=%d operator_bps=%d version=%d",
		actor, fees.PlatformFeeBps, fees.OperatorFeeBps, m.version)
	return nil
}

// AddSigner adds an operator key to the authorized signer set.
func (m *Manager) AddSigner(actor string, signer common.Address) error {
	if signer == (common.Address{}) {
		return ErrZeroSigner
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(actor); err != nil {
		return err
	}
	m.signers[signer] = true
	m.version++
	log.Printf("level=info component=admin msg=\"signer added\" actor=%s signer=%s version=%d", actor, signer.Hex(), m.version)
	return nil
}

// RemoveSigner removes an operator key from the authorized signer set.
func (m *Manager) RemoveSigner(actor string, signer common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(actor); err != nil {
		return err
	}
	delete(m.signers, signer)
	m.version++
	log.Printf("level=info component=admin msg=\"signer removed\" actor=%s signer=%s version=%d", actor, signer.Hex(), m.version)
	return nil
}

// GrantRole grants a role to a principal and appends an audit entry.
func (m *Manager) GrantRole(ctx context.Context, actor string, role domain.Role, principal string) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}

	m.mu.Lock()
	if err := m.requireAdmin(actor); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.roles[role] == nil {
		m.roles[role] = make(map[string]bool)
	}
	m.roles[role][principal] = true
	m.version++
	m.mu.Unlock()

	log.Printf("level=info component=admin msg=\"role granted\" actor=%s role=%s principal=%s", actor, role, principal)
	return m.audit(ctx, role, principal, actor, false)
}

// RevokeRole removes a role from a principal and appends an audit entry.
func (m *Manager) RevokeRole(ctx context.Context, actor string, role domain.Role, principal string) error {
	m.mu.Lock()
	if err := m.requireAdmin(actor); err != nil {
		m.mu.Unlock()
		return err
	}
	if set, ok := m.roles[role]; ok {
		delete(set, principal)
	}
	m.version++
	m.mu.Unlock()

	log.Printf("level=info component=admin msg=\"role revoked\" actor=%s role=%s principal=%s", actor, role, principal)
	return m.audit(ctx, role, principal, actor, true)
}

func (m *Manager) audit(ctx context.Context, role domain.Role, principal, actor string, revoked bool) error {
	if m.repo == nil {
		return nil
	}
	err := m.repo.RecordRoleGrant(ctx, &domain.RoleGrant{
		ID:        uuid.New(),
		Role:      role,
		Principal: principal,
		GrantedBy: actor,
		Revoked:   revoked,
	})
	if err != nil {
		log.Printf("level=warn component=admin msg=\"role grant audit write failed\" role=%s principal=%s err=%v", role, principal, err)
	}
	return err
}

// Pause sets the global pause flag. When paused, all state-mutating entry
// points fail with ErrSystemPaused; pure reads remain available.
func (m *Manager) Pause(actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(actor); err != nil {
		return err
	}
	m.paused = true
	m.version++
	log.Printf("level=warn component=admin msg=\"system paused\" actor=%s version=%d", actor, m.version)
	return nil
}

// Unpause clears the global pause flag.
func (m *Manager) Unpause(actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(actor); err != nil {
		return err
	}
	m.paused = false
	m.version++
	log.Printf("level=info component=admin msg=\"system unpaused\" actor=%s version=%d", actor, m.version)
	return nil
}

// EmergencyTokenRecovery sweeps tokens stuck on the settlement rail to a safe
// destination. Logged, never silent.
func (m *Manager) EmergencyTokenRecovery(ctx context.Context, actor string, token, to common.Address, amount int64) error {
	if to == (common.Address{}) {
		return ErrZeroDestination
	}
	if amount <= 0 {
		return fmt.Errorf("recovery amount must be positive, got %d", amount)
	}

	m.mu.RLock()
	err := m.requireAdmin(actor)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	if m.recoverer == nil {
		return errors.New("token recovery is not configured")
	}
	if err := m.recoverer.RecoverTokens(ctx, token, to, amount); err != nil {
		return fmt.Errorf("token recovery failed: %w", err)
	}
	log.Printf("level=warn component=admin msg=\"emergency token recovery executed\" actor=%s token=%s to=%s amount=%d",
		actor, token.Hex(), to.Hex(), amount)
	return nil
}
