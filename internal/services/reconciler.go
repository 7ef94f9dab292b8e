package services

import (
	"errors"
	"fmt"

	"heartpulse-billing/internal/models"
	"heartpulse-billing/pkg/logging"

	"gorm.io/gorm"
)

// Reconciler maps decoded transactions into the canonical ledger
type Reconciler struct {
	db         *gorm.DB
	links      *LinkService
	aggregator *Aggregator
}

// NewReconciler creates a new reconciler
func NewReconciler(db *gorm.DB, links *LinkService, aggregator *Aggregator) *Reconciler {
	return &Reconciler{db: db, links: links, aggregator: aggregator}
}

// UpsertResult reports what the reconciler did with a candidate record
type UpsertResult struct {
	Applied   bool   // false when the (transaction id, notification uuid) pair was already stored
	UserID    string // empty when no identity link resolved
	Partition string
}

// Upsert idempotently writes one transaction into the correct partition.
// Resolution order: purchase token first, then original transaction id. The
// ledger write and the summary update run in separate transactions; a crash
// between them under-counts the summary, never double-counts it.
func (r *Reconciler) Upsert(record *models.BillingTransaction) (*UpsertResult, error) {
	userID := r.resolveUser(record)
	record.UserID = userID

	partition := models.UnlinkedTransactionTable
	if userID != "" {
		partition = models.LinkedTransactionTable
	}

	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.BillingTransaction
		err := tx.Table(partition).
			Set("gorm:query_option", "FOR UPDATE").
			Where("transaction_id = ?", record.TransactionID).
			First(&existing).Error

		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				applied = true
				return tx.Table(partition).Create(record).Error
			}
			return err
		}

		// Empty notification uuids (backfill-sourced) compare equal to each
		// other, so replaying a backfill is a true no-op.
		if existing.NotificationUUID == record.NotificationUUID {
			logging.Infof("Duplicate transaction skipped - transaction_id: %s, notification_uuid: %q",
				record.TransactionID, record.NotificationUUID)
			return nil
		}

		applied = true
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		return tx.Table(partition).Save(record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction %s: %w", record.TransactionID, err)
	}

	result := &UpsertResult{Applied: applied, UserID: userID, Partition: partition}
	if !applied || userID == "" {
		return result, nil
	}

	// Separate atomic operation from the ledger write above.
	if err := r.aggregator.Apply(userID, record.Currency, record.AmountMinor, record.IsRenewal, record.PurchasedAt); err != nil {
		return nil, fmt.Errorf("failed to update billing summary for user %s: %w", userID, err)
	}

	return result, nil
}

// resolveUser looks up the owning user, first by the anonymous purchase token
// and then by the original transaction id. Returns empty when no link exists.
func (r *Reconciler) resolveUser(record *models.BillingTransaction) string {
	if record.AppAccountToken != "" {
		link, err := r.links.GetByAppAccountToken(record.AppAccountToken)
		if err == nil && link.UserID != "" {
			return link.UserID
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Errorf("Link lookup by purchase token failed: %v", err)
		}
	}

	if record.OriginalTransactionID != "" {
		link, err := r.links.GetByOriginalTransactionID(record.OriginalTransactionID)
		if err == nil && link.UserID != "" {
			return link.UserID
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Errorf("Link lookup by original transaction id failed: %v", err)
		}
	}

	return ""
}
