/**
 * @description
 * This file contains the HTTP handlers for the payment engine's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service or admin manager, and writing
 * the HTTP response. They act as the bridge between the web layer and the
 * business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/admin, internal/domain, internal/store: Service
 *   logic, models, and custom errors.
 */

package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fanvault/payment-engine/internal/admin"
	"github.com/fanvault/payment-engine/internal/app"
	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/pricing"
	"github.com/fanvault/payment-engine/internal/refund"
	"github.com/fanvault/payment-engine/internal/signing"
	"github.com/fanvault/payment-engine/internal/store"
)

// PaymentHandlers holds the application service and admin manager that
// handlers will use.
type PaymentHandlers struct {
	service *app.Service
	admin   *admin.Manager
	limiter *app.RedisPaymentRateLimiter
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service, adminMgr *admin.Manager, limiter *app.RedisPaymentRateLimiter) *PaymentHandlers {
	return &PaymentHandlers{service: service, admin: adminMgr, limiter: limiter}
}

// consumeRateLimit applies the per-subject limit, writing a 429 and returning
// false when exhausted.
func (h *PaymentHandlers) consumeRateLimit(w http.ResponseWriter, r *http.Request, scope, subject string, limit int, window time.Duration) bool {
	if h.limiter == nil {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, window)
	if err != nil {
		// The limiter is best-effort; never block payments on Redis.
		log.Printf("level=warn component=api msg=\"rate limiter unavailable\" scope=%s err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
		return false
	}
	return true
}

// createIntentRequestBody is the wire form of an intent creation request.
type createIntentRequestBody struct {
	Payer          string     `json:"payer"`
	Creator        string     `json:"creator"`
	PaymentType    string     `json:"payment_type"`
	ContentID      *uuid.UUID `json:"content_id,omitempty"`
	PaymentToken   string     `json:"payment_token"`
	Amount         int64      `json:"amount"`
	MaxSlippageBps int64      `json:"max_slippage_bps"`
	Deadline       time.Time  `json:"deadline"`
}

// CreateIntentHandler handles intent creation requests.
func (h *PaymentHandlers) CreateIntentHandler(w http.ResponseWriter, r *http.Request) {
	var body createIntentRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Printf("level=warn component=api endpoint=create_intent outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !common.IsHexAddress(body.Payer) || !common.IsHexAddress(body.Creator) || !common.IsHexAddress(body.PaymentToken) {
		h.writeError(w, http.StatusBadRequest, "payer, creator and payment_token must be hex addresses")
		return
	}
	if !h.consumeRateLimit(w, r, "create_intent", strings.ToLower(body.Payer), 30, time.Minute) {
		return
	}

	pc, err := h.service.CreatePaymentIntent(r.Context(), &domain.CreateIntentRequest{
		Payer:          common.HexToAddress(body.Payer),
		Creator:        common.HexToAddress(body.Creator),
		PaymentType:    domain.PaymentType(body.PaymentType),
		ContentID:      body.ContentID,
		PaymentToken:   common.HexToAddress(body.PaymentToken),
		Amount:         body.Amount,
		MaxSlippageBps: body.MaxSlippageBps,
		Deadline:       body.Deadline,
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_intent outcome=failed payer=%s err=%v", body.Payer, err)
		switch {
		case errors.Is(err, admin.ErrSystemPaused):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, app.ErrInvalidCreator), errors.Is(err, app.ErrInvalidContent):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, pricing.ErrNoLiquidity), errors.Is(err, app.ErrSlippageExceeded), errors.Is(err, app.ErrAmountBelowPrice):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, app.ErrInvalidPaymentType), errors.Is(err, app.ErrContentRequired),
			errors.Is(err, app.ErrDeadlineInPast), errors.Is(err, app.ErrAmountNotPositive):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, pc)
}

// GetPaymentContextHandler returns the aggregated state of one intent.
func (h *PaymentHandlers) GetPaymentContextHandler(w http.ResponseWriter, r *http.Request) {
	intentID, ok := h.parseIntentID(w, r)
	if !ok {
		return
	}

	pc, err := h.service.GetPaymentContext(r.Context(), intentID)
	if err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			h.writeError(w, http.StatusNotFound, "Payment intent not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, pc)
}

// ProvideSignatureHandler attaches a hex-encoded operator signature to an intent.
func (h *PaymentHandlers) ProvideSignatureHandler(w http.ResponseWriter, r *http.Request) {
	intentID, ok := h.parseIntentID(w, r)
	if !ok {
		return
	}

	var body struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(body.Signature, "0x"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "signature must be hex encoded")
		return
	}

	signer, err := h.service.ProvideIntentSignature(r.Context(), intentID, signature)
	if err != nil {
		log.Printf("level=warn component=api endpoint=provide_signature outcome=failed intent_id=%s err=%v", intentID, err)
		switch {
		case errors.Is(err, admin.ErrSystemPaused):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, store.ErrIntentNotFound), errors.Is(err, store.ErrSignatureRecordNotFound):
			h.writeError(w, http.StatusNotFound, "Payment intent not found")
		case errors.Is(err, app.ErrIntentExpired):
			h.writeError(w, http.StatusConflict, "Intent deadline has passed")
		case errors.Is(err, signing.ErrUnauthorizedSigner), errors.Is(err, signing.ErrMalformedSignature):
			h.writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, store.ErrSignatureStateConflict):
			h.writeError(w, http.StatusConflict, "Intent is not awaiting a signature")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"signer": signer.Hex()})
}

// transferAuthorizationBody is the wire form of a one-shot signed transfer
// authorization presented at execution time.
type transferAuthorizationBody struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       int64  `json:"value"`
	ValidAfter  int64  `json:"valid_after"`
	ValidBefore int64  `json:"valid_before"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

func (b *transferAuthorizationBody) toDomain() (*domain.TransferAuthorization, error) {
	if !common.IsHexAddress(b.From) || !common.IsHexAddress(b.To) {
		return nil, errors.New("authorization from/to must be hex addresses")
	}
	nonce, err := hex.DecodeString(strings.TrimPrefix(b.Nonce, "0x"))
	if err != nil || len(nonce) != 32 {
		return nil, errors.New("authorization nonce must be 32 hex-encoded bytes")
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(b.Signature, "0x"))
	if err != nil {
		return nil, errors.New("authorization signature must be hex encoded")
	}

	auth := &domain.TransferAuthorization{
		From:        common.HexToAddress(b.From),
		To:          common.HexToAddress(b.To),
		Value:       b.Value,
		ValidAfter:  time.Unix(b.ValidAfter, 0),
		ValidBefore: time.Unix(b.ValidBefore, 0),
		Signature:   signature,
	}
	copy(auth.Nonce[:], nonce)
	return auth, nil
}

// ExecuteHandler executes a signed intent. The optional authorization body
// switches the fund pull from allowance mode to one-shot signed mode.
func (h *PaymentHandlers) ExecuteHandler(w http.ResponseWriter, r *http.Request) {
	intentID, ok := h.parseIntentID(w, r)
	if !ok {
		return
	}

	var body struct {
		Authorization *transferAuthorizationBody `json:"authorization,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	}

	var auth *domain.TransferAuthorization
	if body.Authorization != nil {
		var err error
		auth, err = body.Authorization.toDomain()
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	result, err := h.service.ExecutePaymentWithSignature(r.Context(), intentID, auth)
	if err != nil {
		log.Printf("level=warn component=api endpoint=execute_payment outcome=failed intent_id=%s err=%v", intentID, err)
		switch {
		case errors.Is(err, admin.ErrSystemPaused):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, store.ErrIntentNotFound):
			h.writeError(w, http.StatusNotFound, "Payment intent not found")
		case errors.Is(err, store.ErrIntentAlreadyProcessed):
			h.writeError(w, http.StatusConflict, "Payment intent already processed")
		case errors.Is(err, app.ErrNoSignature):
			h.writeError(w, http.StatusPreconditionFailed, err.Error())
		case errors.Is(err, app.ErrAuthorizationNotYetValid), errors.Is(err, app.ErrAuthorizationExpired),
			errors.Is(err, app.ErrAuthorizationValue), errors.Is(err, app.ErrAuthorizationSigner),
			errors.Is(err, app.ErrAuthorizationRecipient):
			h.writeError(w, http.StatusForbidden, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, result)
}

// RequestRefundHandler opens a refund request for the intent's payer.
func (h *PaymentHandlers) RequestRefundHandler(w http.ResponseWriter, r *http.Request) {
	intentID, ok := h.parseIntentID(w, r)
	if !ok {
		return
	}

	var body struct {
		User   string `json:"user"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !common.IsHexAddress(body.User) {
		h.writeError(w, http.StatusBadRequest, "user must be a hex address")
		return
	}
	if !h.consumeRateLimit(w, r, "request_refund", strings.ToLower(body.User), 10, time.Minute) {
		return
	}

	req, err := h.service.RequestRefund(r.Context(), intentID, &domain.RequestRefundPayload{
		User:   common.HexToAddress(body.User),
		Reason: body.Reason,
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=request_refund outcome=failed intent_id=%s err=%v", intentID, err)
		switch {
		case errors.Is(err, admin.ErrSystemPaused):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, store.ErrIntentNotFound):
			h.writeError(w, http.StatusNotFound, "Payment intent not found")
		case errors.Is(err, refund.ErrNotIntentPayer):
			h.writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, store.ErrRefundAlreadyRequested):
			h.writeError(w, http.StatusConflict, "Refund already requested for this intent")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, req)
}

// ProcessRefundHandler settles an open refund request. Internal callers only.
func (h *PaymentHandlers) ProcessRefundHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}
	intentID, ok := h.parseIntentID(w, r)
	if !ok {
		return
	}

	req, err := h.service.ProcessRefund(r.Context(), actor, intentID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=process_refund outcome=failed intent_id=%s actor=%s err=%v", intentID, actor, err)
		switch {
		case errors.Is(err, admin.ErrSystemPaused):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, refund.ErrNotAuthorized):
			h.writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, store.ErrRefundRequestNotFound):
			h.writeError(w, http.StatusNotFound, "Refund request not found")
		case errors.Is(err, store.ErrRefundAlreadyProcessed):
			h.writeError(w, http.StatusConflict, "Refund already processed")
		case errors.Is(err, store.ErrRefundPoolUnderfunded):
			h.writeError(w, http.StatusPaymentRequired, "Refund pool balance is insufficient")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, req)
}

// FundRefundPoolHandler tops up the refund pool. Internal callers only.
func (h *PaymentHandlers) FundRefundPoolHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.FundRefundPool(r.Context(), actor, body.Amount); err != nil {
		switch {
		case errors.Is(err, admin.ErrSystemPaused):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, refund.ErrNotAuthorized):
			h.writeError(w, http.StatusForbidden, err.Error())
		default:
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

// RefundMetricsHandler reports the refund pool balance and running totals.
func (h *PaymentHandlers) RefundMetricsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.RefundPoolStats(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// ConfigureRenewalHandler creates or updates an auto-renewal config.
func (h *PaymentHandlers) ConfigureRenewalHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User     string `json:"user"`
		Creator  string `json:"creator"`
		Enabled  bool   `json:"enabled"`
		MaxPrice int64  `json:"max_price"`
		TopUp    int64  `json:"top_up"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !common.IsHexAddress(body.User) || !common.IsHexAddress(body.Creator) {
		h.writeError(w, http.StatusBadRequest, "user and creator must be hex addresses")
		return
	}

	cfg, err := h.service.ConfigureAutoRenewal(r.Context(), &domain.ConfigureRenewalPayload{
		User:     common.HexToAddress(body.User),
		Creator:  common.HexToAddress(body.Creator),
		Enabled:  body.Enabled,
		MaxPrice: body.MaxPrice,
		TopUp:    body.TopUp,
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=configure_renewal outcome=failed user=%s err=%v", body.User, err)
		if errors.Is(err, admin.ErrSystemPaused) {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// --- Admin handlers ---

// PauseHandler sets the global pause flag.
func (h *PaymentHandlers) PauseHandler(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, func(actor string) error { return h.admin.Pause(actor) })
}

// UnpauseHandler clears the global pause flag.
func (h *PaymentHandlers) UnpauseHandler(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, func(actor string) error { return h.admin.Unpause(actor) })
}

// UpdateFeesHandler replaces the fee configuration.
func (h *PaymentHandlers) UpdateFeesHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlatformFeeBps      int64  `json:"platform_fee_bps"`
		OperatorFeeBps      int64  `json:"operator_fee_bps"`
		PlatformDestination string `json:"platform_destination"`
		OperatorDestination string `json:"operator_destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !common.IsHexAddress(body.PlatformDestination) || !common.IsHexAddress(body.OperatorDestination) {
		h.writeError(w, http.StatusBadRequest, "fee destinations must be hex addresses")
		return
	}

	h.adminAction(w, r, func(actor string) error {
		return h.admin.SetFeeConfig(actor, domain.FeeConfig{
			PlatformFeeBps:      body.PlatformFeeBps,
			OperatorFeeBps:      body.OperatorFeeBps,
			PlatformDestination: common.HexToAddress(body.PlatformDestination),
			OperatorDestination: common.HexToAddress(body.OperatorDestination),
		})
	})
}

// AddSignerHandler adds an operator key to the authorized signer set.
func (h *PaymentHandlers) AddSignerHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Signer string `json:"signer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !common.IsHexAddress(body.Signer) {
		h.writeError(w, http.StatusBadRequest, "signer must be a hex address")
		return
	}
	h.adminAction(w, r, func(actor string) error {
		return h.admin.AddSigner(actor, common.HexToAddress(body.Signer))
	})
}

// RemoveSignerHandler removes an operator key from the authorized signer set.
func (h *PaymentHandlers) RemoveSignerHandler(w http.ResponseWriter, r *http.Request) {
	signerHex := chi.URLParam(r, "address")
	if !common.IsHexAddress(signerHex) {
		h.writeError(w, http.StatusBadRequest, "signer must be a hex address")
		return
	}
	h.adminAction(w, r, func(actor string) error {
		return h.admin.RemoveSigner(actor, common.HexToAddress(signerHex))
	})
}

// GrantRoleHandler grants a role to a principal.
func (h *PaymentHandlers) GrantRoleHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role      string `json:"role"`
		Principal string `json:"principal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	h.adminAction(w, r, func(actor string) error {
		return h.admin.GrantRole(r.Context(), actor, domain.Role(body.Role), body.Principal)
	})
}

// RevokeRoleHandler removes a role from a principal.
func (h *PaymentHandlers) RevokeRoleHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role      string `json:"role"`
		Principal string `json:"principal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	h.adminAction(w, r, func(actor string) error {
		return h.admin.RevokeRole(r.Context(), actor, domain.Role(body.Role), body.Principal)
	})
}

// ListRoleGrantsHandler returns the role grant audit trail.
func (h *PaymentHandlers) ListRoleGrantsHandler(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.RoleGrantAudit(r.Context(), 200)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, grants)
}

// RecoverTokensHandler sweeps stuck tokens to a safe destination.
func (h *PaymentHandlers) RecoverTokensHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token  string `json:"token"`
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !common.IsHexAddress(body.Token) || !common.IsHexAddress(body.To) {
		h.writeError(w, http.StatusBadRequest, "token and to must be hex addresses")
		return
	}
	h.adminAction(w, r, func(actor string) error {
		return h.admin.EmergencyTokenRecovery(r.Context(), actor, common.HexToAddress(body.Token), common.HexToAddress(body.To), body.Amount)
	})
}

// adminAction runs one admin mutation with the shared error mapping.
func (h *PaymentHandlers) adminAction(w http.ResponseWriter, r *http.Request, fn func(actor string) error) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor from context")
		return
	}

	if err := fn(actor); err != nil {
		log.Printf("level=warn component=api endpoint=admin outcome=failed actor=%s err=%v", actor, err)
		switch {
		case errors.Is(err, admin.ErrNotAuthorized):
			h.writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, admin.ErrFeeRateOutOfRange), errors.Is(err, admin.ErrZeroDestination), errors.Is(err, admin.ErrZeroSigner):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *PaymentHandlers) parseIntentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	intentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid intent id")
		return uuid.UUID{}, false
	}
	return intentID, true
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
