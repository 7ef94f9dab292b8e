package models

import (
	"time"
)

// SubscriptionLink binds an anonymous purchase token to an authenticated user.
// Keyed by the platform-assigned original transaction id; created proactively
// by the client after a purchase, or lazily when a webhook resolves a user.
// Never deleted by this service.
type SubscriptionLink struct {
	BaseModel

	OriginalTransactionID string `json:"original_transaction_id" gorm:"not null;size:100;uniqueIndex"`
	UserID                string `json:"user_id" gorm:"not null;size:100;index"`
	AppAccountToken       string `json:"app_account_token" gorm:"size:36;index"` // anonymous purchase token (UUID)
	TransactionID         string `json:"transaction_id" gorm:"size:100"`         // latest known transaction id
	ProductID             string `json:"product_id" gorm:"size:100"`
	Source                string `json:"source" gorm:"size:20;default:'ios'"`

	// Stamped after each completed history replay.
	LastBackfillAt *time.Time `json:"last_backfill_at"`
}

// TableName 指定表名
func (SubscriptionLink) TableName() string {
	return "subscription_link"
}
