package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction record sources
const (
	SourceNotification = "notification"
	SourceBackfill     = "backfill"
)

// Partition tables for billing transactions. A record lands in the linked
// partition when a user id could be resolved at write time, otherwise in the
// unlinked one. The two partitions share the same schema.
const (
	LinkedTransactionTable   = "linked_transaction"
	UnlinkedTransactionTable = "unlinked_transaction"
)

// BillingTransaction 账单交易记录
// One row per platform transaction id; the (transaction_id, notification_uuid)
// pair is the idempotency key. Backfill-sourced rows carry an empty
// notification_uuid, and empty uuids compare equal to each other.
type BillingTransaction struct {
	BaseModel

	// 交易标识
	TransactionID         string `json:"transaction_id" gorm:"not null;size:100;uniqueIndex"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:100;index"`
	NotificationUUID      string `json:"notification_uuid" gorm:"size:100"` // empty for backfill-sourced rows

	// 关联字段
	UserID          string `json:"user_id" gorm:"size:100;index"` // empty in the unlinked partition
	AppAccountToken string `json:"app_account_token" gorm:"size:36;index"`

	// 产品信息
	ProductID string `json:"product_id" gorm:"size:100"`

	// 金额
	Currency      string          `json:"currency" gorm:"size:10"`
	AmountMinor   int64           `json:"amount_minor"` // price field as delivered by the platform
	AmountDecimal decimal.Decimal `json:"amount_decimal" gorm:"type:numeric(18,6)"`

	// 时间
	PurchasedAt time.Time `json:"purchased_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	// 来源
	Source              string `json:"source" gorm:"not null;size:20;index"` // notification 或 backfill
	NotificationType    string `json:"notification_type" gorm:"size:50"`
	NotificationSubtype string `json:"notification_subtype" gorm:"size:50"`
	IsRenewal           bool   `json:"is_renewal"`
}
