package models

import "time"

// Event topics
const (
	EventQueryExecuted    = "query.executed"
	EventCreditsPurchased = "credits.purchased"
)

// Event is an ephemeral in-process message; the channel never persists it
type Event struct {
	Id        string         `json:"id"`
	TenantId  string         `json:"tenantId"`
	AccountId string         `json:"userId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}
