package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fanvault/payment-engine/internal/domain"
)

func signAuthorization(t *testing.T, key *ecdsa.PrivateKey, auth *domain.TransferAuthorization) {
	t.Helper()
	sig, err := crypto.Sign(transferAuthDigest(auth), key)
	if err != nil {
		t.Fatalf("failed to sign authorization: %v", err)
	}
	auth.Signature = sig
}

func validAuthorization(t *testing.T, key *ecdsa.PrivateKey, value int64) *domain.TransferAuthorization {
	t.Helper()
	auth := &domain.TransferAuthorization{
		From:        crypto.PubkeyToAddress(key.PublicKey),
		To:          collectorAddr,
		Value:       value,
		ValidAfter:  time.Now().Add(-time.Minute),
		ValidBefore: time.Now().Add(time.Hour),
	}
	copy(auth.Nonce[:], []byte("nonce-for-tests"))
	signAuthorization(t, key, auth)
	return auth
}

func TestCollectWithSignedAuthorization(t *testing.T) {
	rail := newFakeRail()
	executor := NewPermitExecutor(rail, collectorAddr)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey)
	auth := validAuthorization(t, key, 1_000_000)

	if err := executor.Collect(context.Background(), payer, settlementToken, 1_000_000, auth); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if len(rail.collectCalls) != 1 {
		t.Fatalf("expected one collect call, got %d", len(rail.collectCalls))
	}
	if rail.collectCalls[0].Authorization == nil {
		t.Fatal("expected the signed authorization on the wire")
	}
}

func TestCollectAllowancePull(t *testing.T) {
	rail := newFakeRail()
	executor := NewPermitExecutor(rail, collectorAddr)

	if err := executor.Collect(context.Background(), payerAddr, settlementToken, 1_000_000, nil); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if rail.collectCalls[0].Authorization != nil {
		t.Fatal("allowance pull must not carry an authorization body")
	}
}

func TestCollectRejectsBadAuthorizations(t *testing.T) {
	rail := newFakeRail()
	executor := NewPermitExecutor(rail, collectorAddr)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey)

	testCases := []struct {
		name    string
		auth    func() *domain.TransferAuthorization
		wantErr error
	}{
		{
			name: "not yet valid",
			auth: func() *domain.TransferAuthorization {
				a := validAuthorization(t, key, 1_000_000)
				a.ValidAfter = time.Now().Add(time.Hour)
				signAuthorization(t, key, a)
				return a
			},
			wantErr: ErrAuthorizationNotYetValid,
		},
		{
			name: "expired",
			auth: func() *domain.TransferAuthorization {
				a := validAuthorization(t, key, 1_000_000)
				a.ValidBefore = time.Now().Add(-time.Minute)
				signAuthorization(t, key, a)
				return a
			},
			wantErr: ErrAuthorizationExpired,
		},
		{
			name: "value too small",
			auth: func() *domain.TransferAuthorization {
				a := validAuthorization(t, key, 999_999)
				return a
			},
			wantErr: ErrAuthorizationValue,
		},
		{
			name: "wrong recipient",
			auth: func() *domain.TransferAuthorization {
				a := validAuthorization(t, key, 1_000_000)
				a.To = platformDest
				signAuthorization(t, key, a)
				return a
			},
			wantErr: ErrAuthorizationRecipient,
		},
		{
			name: "signed by someone else",
			auth: func() *domain.TransferAuthorization {
				a := validAuthorization(t, key, 1_000_000)
				signAuthorization(t, otherKey, a)
				return a
			},
			wantErr: ErrAuthorizationSigner,
		},
		{
			name: "tampered after signing",
			auth: func() *domain.TransferAuthorization {
				a := validAuthorization(t, key, 1_000_000)
				a.Value = 2_000_000
				return a
			},
			wantErr: ErrAuthorizationSigner,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := executor.Collect(context.Background(), payer, settlementToken, 1_000_000, tc.auth())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(rail.collectCalls) != 0 {
				t.Fatal("a rejected authorization must never reach the rail")
			}
		})
	}
}
