/**
 * @description
 * Domain models for the refund ledger: per-intent refund requests and the
 * aggregate metrics of the funded refund pool.
 */

package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// RefundRequest records a user's request to be made whole for a failed or
// disputed payment. At most one request exists per originating intent, and
// Processed transitions false→true exactly once.
type RefundRequest struct {
	IntentID    uuid.UUID      `json:"intent_id"`
	User        common.Address `json:"user"`
	Amount      int64          `json:"amount"`
	Reason      string         `json:"reason"`
	Processed   bool           `json:"processed"`
	RequestedAt time.Time      `json:"requested_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// RefundPoolStats reports the state of the shared refund pool for audit and
// reconciliation.
type RefundPoolStats struct {
	Balance       int64 `json:"balance"`
	TotalRefunded int64 `json:"total_refunded"`
	RefundCount   int64 `json:"refund_count"`
}

// RequestRefundPayload is the DTO for the user-facing refund request endpoint.
type RequestRefundPayload struct {
	User   common.Address `json:"user"`
	Reason string         `json:"reason"`
}
