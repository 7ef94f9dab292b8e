package services

import (
	"errors"
	"time"

	"heartpulse-billing/internal/models"

	"gorm.io/gorm"
)

// Aggregator maintains the per-user billing summary singletons
type Aggregator struct {
	db *gorm.DB
}

// NewAggregator creates a new aggregator
func NewAggregator(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// Apply folds one accepted transaction into the user's summary. A positive
// amount counts as a charge: purchases and renewals increment their own
// counters, and the amount is added to the currency-keyed total either way.
// Duplicate detection is the caller's responsibility; Apply must be invoked
// exactly once per accepted transaction.
func (a *Aggregator) Apply(userID, currency string, amountMinor int64, isRenewal bool, occurredAt time.Time) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		var summary models.BillingSummary
		err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("user_id = ?", userID).
			First(&summary).Error

		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			summary = models.BillingSummary{UserID: userID}
		}

		charge := amountMinor > 0
		if charge && !isRenewal {
			summary.PurchaseCount++
		}
		if charge && isRenewal {
			summary.RenewalCount++
		}

		totals, err := summary.Totals()
		if err != nil {
			return err
		}
		totals[currency] += amountMinor
		if err := summary.SetTotals(totals); err != nil {
			return err
		}

		summary.LastTransactionAt = occurredAt
		return tx.Save(&summary).Error
	})
}

// GetSummary returns the summary singleton for a user
func (a *Aggregator) GetSummary(userID string) (*models.BillingSummary, error) {
	var summary models.BillingSummary
	err := a.db.Where("user_id = ?", userID).First(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}
