package models

import (
	"encoding/json"
	"time"
)

// BillingSummary 用户账单汇总
// One singleton row per user, maintained incrementally by the aggregator from
// accepted (non-duplicate) transactions. Derived state: rebuildable in
// principle from the full transaction ledger.
type BillingSummary struct {
	BaseModel

	UserID        string `json:"user_id" gorm:"not null;size:100;uniqueIndex"`
	PurchaseCount int64  `json:"purchase_count"`
	RenewalCount  int64  `json:"renewal_count"`

	// JSON map of currency code -> total paid in minor units
	TotalsByCurrency string `json:"totals_by_currency" gorm:"type:text"`

	LastTransactionAt time.Time `json:"last_transaction_at"`
}

// TableName 指定表名
func (BillingSummary) TableName() string {
	return "billing_summary"
}

// Totals decodes the per-currency totals map. An empty column yields an
// empty, usable map.
func (s *BillingSummary) Totals() (map[string]int64, error) {
	totals := make(map[string]int64)
	if s.TotalsByCurrency == "" {
		return totals, nil
	}
	if err := json.Unmarshal([]byte(s.TotalsByCurrency), &totals); err != nil {
		return nil, err
	}
	return totals, nil
}

// SetTotals encodes the per-currency totals map back into the column.
func (s *BillingSummary) SetTotals(totals map[string]int64) error {
	data, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	s.TotalsByCurrency = string(data)
	return nil
}
