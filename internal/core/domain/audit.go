package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreateWallet AuditAction = "CREATE_WALLET"
	AuditActionBlockWallet  AuditAction = "BLOCK_WALLET"
	AuditActionDeposit      AuditAction = "DEPOSIT"
	AuditActionWithdrawal   AuditAction = "WITHDRAWAL"
	AuditActionConversion   AuditAction = "CONVERSION"
	AuditActionTransfer     AuditAction = "TRANSFER"
)

// AuditLog records a single audited HTTP write.
type AuditLog struct {
	ID            uuid.UUID   `json:"id"`
	WalletAddress *string     `json:"wallet_address,omitempty"`
	Action        AuditAction `json:"action"`
	ResourceType  string      `json:"resource_type"`
	ResourceID    string      `json:"resource_id,omitempty"`
	Details       string      `json:"details,omitempty"` // JSON string
	IPAddress     string      `json:"ip_address"`
	RequestID     string      `json:"request_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
