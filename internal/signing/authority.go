/**
 * @description
 * The signature authority owns intent signature records and their lifecycle:
 * Unprepared → AwaitingSignature → Signed → Consumed. It computes the
 * canonical digest an operator signs, verifies that an attached signature
 * recovers to a currently-authorized signer, and clears the signature exactly
 * once at execution time so a signature can never fund two executions.
 *
 * The digest is a keccak-256 hash over a fixed-order, fixed-width encoding of
 * the intent's economically-relevant fields, including the intent id. Mutable
 * fields (processed flag, timestamps) are excluded; including them would make
 * replay or tamper detection unsound.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto: keccak-256 and secp256k1 recovery.
 * - internal/domain, internal/store: Models and persistence.
 */

package signing

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/store"
)

// domainPrefix versions the digest layout. Changing the encoding requires a
// new prefix so old signatures can never validate against the new layout.
const domainPrefix = "fanvault/payment-intent/v1"

var (
	ErrUnauthorizedSigner  = errors.New("signature does not recover to an authorized signer")
	ErrMalformedSignature  = errors.New("signature must be 65 bytes")
	ErrSignatureNotPresent = errors.New("no signature attached for intent")
)

// SignerSet answers whether an address is currently authorized to sign
// intents. Satisfied by the admin configuration snapshot.
type SignerSet interface {
	IsAuthorizedSigner(addr common.Address) bool
}

var paymentTypeCodes = map[domain.PaymentType]byte{
	domain.PaymentTypePayPerView:   1,
	domain.PaymentTypeSubscription: 2,
	domain.PaymentTypeTip:          3,
	domain.PaymentTypeDonation:     4,
}

// IntentDigest computes the canonical hash an operator signs for an intent.
// The encoding is fixed-order and fixed-width: the same intent always hashes
// to the same digest, and two intents that differ only in id hash differently.
func IntentDigest(intent *domain.PaymentIntent) []byte {
	buf := make([]byte, 0, len(domainPrefix)+16+20+20+1+16+20+8*5)
	buf = append(buf, domainPrefix...)
	buf = append(buf, intent.ID[:]...)
	buf = append(buf, intent.Payer.Bytes()...)
	buf = append(buf, intent.Creator.Bytes()...)
	buf = append(buf, paymentTypeCodes[intent.PaymentType])

	var contentID uuid.UUID
	if intent.ContentID != nil {
		contentID = *intent.ContentID
	}
	buf = append(buf, contentID[:]...)
	buf = append(buf, intent.PaymentToken.Bytes()...)

	buf = appendUint64(buf, uint64(intent.ExpectedAmount))
	buf = appendUint64(buf, uint64(intent.PlatformFee))
	buf = appendUint64(buf, uint64(intent.CreatorAmount))
	buf = appendUint64(buf, uint64(intent.OperatorFee))
	buf = appendUint64(buf, uint64(intent.Deadline.Unix()))

	return crypto.Keccak256(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// RecoverSigner returns the address that produced the 65-byte signature over
// the digest. The trailing recovery byte accepts both 0/1 and 27/28 forms.
func RecoverSigner(digest, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, ErrMalformedSignature
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Authority manages intent signature records.
type Authority struct {
	repo store.Repository
}

// NewAuthority creates a signature authority backed by the given repository.
func NewAuthority(repo store.Repository) *Authority {
	return &Authority{repo: repo}
}

// Prepare computes the intent digest and creates the signature record in the
// awaiting state. Preparing the same intent twice fails.
func (a *Authority) Prepare(ctx context.Context, intent *domain.PaymentIntent) ([]byte, error) {
	digest := IntentDigest(intent)
	rec := &domain.IntentSignatureRecord{
		IntentID: intent.ID,
		Digest:   digest,
		Status:   domain.SignatureStatusAwaiting,
	}
	if err := a.repo.CreateSignatureRecord(ctx, rec); err != nil {
		return nil, err
	}
	return digest, nil
}

// Attach verifies the signature against the stored digest and the
// currently-authorized signer set, then stores it. Rejected if the record is
// already signed or consumed.
func (a *Authority) Attach(ctx context.Context, signers SignerSet, intentID uuid.UUID, signature []byte) (common.Address, error) {
	rec, err := a.repo.FindSignatureRecordByIntentID(ctx, intentID)
	if err != nil {
		return common.Address{}, err
	}
	if rec.Status != domain.SignatureStatusAwaiting {
		return common.Address{}, store.ErrSignatureStateConflict
	}

	signer, err := RecoverSigner(rec.Digest, signature)
	if err != nil {
		return common.Address{}, err
	}
	if !signers.IsAuthorizedSigner(signer) {
		return common.Address{}, ErrUnauthorizedSigner
	}

	if err := a.repo.AttachSignature(ctx, intentID, signature, signer); err != nil {
		return common.Address{}, err
	}
	return signer, nil
}

// Has reports whether a verified signature is attached and not yet consumed.
func (a *Authority) Has(ctx context.Context, intentID uuid.UUID) (bool, error) {
	rec, err := a.repo.FindSignatureRecordByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, store.ErrSignatureRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.Status == domain.SignatureStatusSigned, nil
}

// Status returns the lifecycle state of the intent's signature record.
func (a *Authority) Status(ctx context.Context, intentID uuid.UUID) (domain.SignatureStatus, error) {
	rec, err := a.repo.FindSignatureRecordByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, store.ErrSignatureRecordNotFound) {
			return domain.SignatureStatusUnprepared, nil
		}
		return "", err
	}
	return rec.Status, nil
}

// Consume atomically clears the signature for its one permitted use and
// returns the record as it stood. A second consume fails.
func (a *Authority) Consume(ctx context.Context, intentID uuid.UUID) (*domain.IntentSignatureRecord, error) {
	rec, err := a.repo.ConsumeSignature(ctx, intentID)
	if err != nil {
		if errors.Is(err, store.ErrSignatureRecordNotFound) {
			return nil, ErrSignatureNotPresent
		}
		return nil, err
	}
	return rec, nil
}
