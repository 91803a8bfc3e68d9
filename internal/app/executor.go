/**
 * @description
 * Fund collection for payment execution. Funds are pulled from the payer in
 * one of two ways: an allowance pull against a pre-authorized spending limit,
 * or a one-shot signed transfer authorization presented with the execution
 * call. The signed form is verified locally (validity window, value, signer)
 * before the rail ever sees it, so a forged or expired authorization fails
 * fast and cheap.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto: keccak-256 and signature recovery.
 * - pkg/escrowclient: The settlement rail collect endpoint.
 */

package app

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/pkg/escrowclient"
)

const transferAuthPrefix = "fanvault/transfer-authorization/v1"

var (
	ErrAuthorizationNotYetValid = errors.New("transfer authorization is not yet valid")
	ErrAuthorizationExpired     = errors.New("transfer authorization has expired")
	ErrAuthorizationValue       = errors.New("transfer authorization value does not cover the amount")
	ErrAuthorizationSigner      = errors.New("transfer authorization is not signed by the payer")
	ErrAuthorizationRecipient   = errors.New("transfer authorization recipient mismatch")
)

// Collector is the subset of the rail client used to pull funds. Satisfied by
// *escrowclient.Client.
type Collector interface {
	Collect(ctx context.Context, req escrowclient.CollectRequest) (*escrowclient.OperationResponse, error)
}

// PermitExecutor pulls funds from payers into the service's rail balance.
type PermitExecutor struct {
	rail      Collector
	collector common.Address // the address authorizations must name as recipient
}

// NewPermitExecutor creates an executor collecting into the given address.
func NewPermitExecutor(rail Collector, collector common.Address) *PermitExecutor {
	return &PermitExecutor{rail: rail, collector: collector}
}

// transferAuthDigest hashes the (from, to, value, validAfter, validBefore,
// nonce) tuple the payer signs.
func transferAuthDigest(auth *domain.TransferAuthorization) []byte {
	buf := make([]byte, 0, len(transferAuthPrefix)+20+20+8+8+8+32)
	buf = append(buf, transferAuthPrefix...)
	buf = append(buf, auth.From.Bytes()...)
	buf = append(buf, auth.To.Bytes()...)
	buf = appendUint64(buf, uint64(auth.Value))
	buf = appendUint64(buf, uint64(auth.ValidAfter.Unix()))
	buf = appendUint64(buf, uint64(auth.ValidBefore.Unix()))
	buf = append(buf, auth.Nonce[:]...)
	return crypto.Keccak256(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// verifyAuthorization checks the window, value, recipient and signature of a
// one-shot transfer authorization against the payer and amount being pulled.
func (e *PermitExecutor) verifyAuthorization(auth *domain.TransferAuthorization, payer common.Address, amount int64, now time.Time) error {
	if now.Before(auth.ValidAfter) {
		return ErrAuthorizationNotYetValid
	}
	if !now.Before(auth.ValidBefore) {
		return ErrAuthorizationExpired
	}
	if auth.Value < amount {
		return fmt.Errorf("%w: value=%d amount=%d", ErrAuthorizationValue, auth.Value, amount)
	}
	if auth.To != e.collector {
		return ErrAuthorizationRecipient
	}

	if len(auth.Signature) != crypto.SignatureLength {
		return errors.New("transfer authorization signature must be 65 bytes")
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, auth.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(transferAuthDigest(auth), sig)
	if err != nil {
		return fmt.Errorf("authorization signature recovery failed: %w", err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if signer != payer || auth.From != payer {
		return ErrAuthorizationSigner
	}
	return nil
}

// Collect pulls amount of token from the payer. A nil auth uses the payer's
// pre-authorized allowance; a non-nil auth is verified and forwarded to the
// rail as a one-shot pull.
func (e *PermitExecutor) Collect(ctx context.Context, payer, token common.Address, amount int64, auth *domain.TransferAuthorization) error {
	req := escrowclient.CollectRequest{
		Payer:  payer.Hex(),
		Token:  token.Hex(),
		Amount: amount,
	}
	if auth != nil {
		if err := e.verifyAuthorization(auth, payer, amount, time.Now()); err != nil {
			return err
		}
		req.Authorization = &escrowclient.SignedAuthorizationBody{
			From:        auth.From.Hex(),
			To:          auth.To.Hex(),
			Value:       auth.Value,
			ValidAfter:  auth.ValidAfter.Unix(),
			ValidBefore: auth.ValidBefore.Unix(),
			Nonce:       hex.EncodeToString(auth.Nonce[:]),
			Signature:   hex.EncodeToString(auth.Signature),
		}
	}

	if _, err := e.rail.Collect(ctx, req); err != nil {
		return err
	}
	return nil
}
