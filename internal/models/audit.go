package models

import "time"

// Audit outcomes
const (
	AuditSuccess = "success"
	AuditFailure = "failure"
)

// AuditEntry is one append-only record of a ledger action
type AuditEntry struct {
	Id         string            `json:"id"`
	TenantId   string            `json:"tenantId"`
	AccountId  string            `json:"accountId"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	ResourceId string            `json:"resourceId,omitempty"`
	Outcome    string            `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
