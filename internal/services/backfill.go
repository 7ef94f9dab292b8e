package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"heartpulse-billing/internal/models"
	"heartpulse-billing/pkg/logging"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Backfill failure reasons reported to callers
const (
	ReasonLinkNotFound       = "link_not_found"
	ReasonUserNotResolved    = "user_not_resolved"
	ReasonBackfillInProgress = "backfill_in_progress"
)

// BackfillResult is the per-target outcome of a history replay. Structured
// failures carry a reason instead of an error so callers can aggregate many
// targets without aborting.
type BackfillResult struct {
	OK                    bool   `json:"ok"`
	OriginalTransactionID string `json:"originalTransactionId"`
	Reason                string `json:"reason,omitempty"`
	PageCount             int    `json:"pageCount,omitempty"`
}

// BackfillOrchestrator replays a subscription's full transaction history from
// the App Store Server API through the reconciler.
type BackfillOrchestrator struct {
	links      *LinkService
	reconciler *Reconciler
	lock       *BackfillLock
	newClient  func() (*AppStoreClient, error)
}

// NewBackfillOrchestrator creates a new orchestrator. The client factory is
// invoked per run so credential problems surface as per-run errors.
func NewBackfillOrchestrator(links *LinkService, reconciler *Reconciler, lock *BackfillLock, newClient func() (*AppStoreClient, error)) *BackfillOrchestrator {
	return &BackfillOrchestrator{
		links:      links,
		reconciler: reconciler,
		lock:       lock,
		newClient:  newClient,
	}
}

// Run replays the history for one original transaction id. Pages are fetched
// strictly sequentially, carrying the revision token forward until a page
// reports no more. Every transaction goes through the same idempotent upsert
// path as webhook deliveries, tagged as backfill-sourced with an empty
// notification uuid, so interrupting and re-running is always safe.
func (o *BackfillOrchestrator) Run(ctx context.Context, originalTransactionID string) (*BackfillResult, error) {
	link, err := o.links.GetByOriginalTransactionID(originalTransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &BackfillResult{OriginalTransactionID: originalTransactionID, Reason: ReasonLinkNotFound}, nil
		}
		return nil, fmt.Errorf("failed to load link %s: %w", originalTransactionID, err)
	}
	if link.UserID == "" {
		return &BackfillResult{OriginalTransactionID: originalTransactionID, Reason: ReasonUserNotResolved}, nil
	}

	client, err := o.newClient()
	if err != nil {
		return nil, err
	}

	acquired, err := o.lock.Acquire(ctx, originalTransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire backfill lock: %w", err)
	}
	if !acquired {
		return &BackfillResult{OriginalTransactionID: originalTransactionID, Reason: ReasonBackfillInProgress}, nil
	}
	defer func() {
		if err := o.lock.Release(context.Background(), originalTransactionID); err != nil {
			logging.Errorf("Failed to release backfill lock for %s: %v", originalTransactionID, err)
		}
	}()

	revision := ""
	pageCount := 0
	for {
		page, err := client.TransactionHistory(ctx, originalTransactionID, revision)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history page %d for %s: %w", pageCount+1, originalTransactionID, err)
		}
		pageCount++

		for _, signed := range page.SignedTransactions {
			transaction, err := DecodeTransaction(signed)
			if err != nil {
				return nil, fmt.Errorf("failed to decode transaction on page %d: %w", pageCount, err)
			}
			record := BuildBackfillRecord(transaction)
			if _, err := o.reconciler.Upsert(record); err != nil {
				return nil, err
			}
		}

		revision = page.Revision
		if !page.HasMore {
			break
		}
	}

	if err := o.links.TouchBackfill(originalTransactionID); err != nil {
		logging.Errorf("Failed to stamp backfill time for %s: %v", originalTransactionID, err)
	}

	logging.Infof("Backfill completed - original_transaction_id: %s, pages: %d", originalTransactionID, pageCount)
	return &BackfillResult{OK: true, OriginalTransactionID: originalTransactionID, PageCount: pageCount}, nil
}

// BuildBackfillRecord maps a history transaction into a canonical ledger
// record. The renewal flag comes from the transaction's own reason code, a
// distinct source from notification-based classification.
func BuildBackfillRecord(transaction *models.AppStoreTransaction) *models.BillingTransaction {
	return &models.BillingTransaction{
		TransactionID:         transaction.TransactionID,
		OriginalTransactionID: transaction.OriginalTransactionID,
		AppAccountToken:       transaction.AppAccountToken,
		ProductID:             transaction.ProductID,
		Currency:              transaction.Currency,
		AmountMinor:           transaction.Price,
		AmountDecimal:         DeriveAmountDecimal(transaction.Price),
		PurchasedAt:           time.UnixMilli(transaction.PurchaseDate),
		ExpiresAt:             time.UnixMilli(transaction.ExpiresDate),
		Source:                models.SourceBackfill,
		IsRenewal:             transaction.TransactionReason == "RENEWAL",
	}
}

// DeriveAmountDecimal derives the decimal amount from the platform price
// field by dividing by 1000, preserving the original ledger's convention.
func DeriveAmountDecimal(price int64) decimal.Decimal {
	return decimal.NewFromInt(price).Div(decimal.NewFromInt(1000))
}
