package services

import (
	"errors"
	"time"

	"heartpulse-billing/internal/models"
	"heartpulse-billing/pkg/logging"

	"gorm.io/gorm"
)

// LinkService manages subscription identity links
type LinkService struct {
	db *gorm.DB
}

// NewLinkService creates a new link service
func NewLinkService(db *gorm.DB) *LinkService {
	return &LinkService{db: db}
}

// Upsert merge-writes a link keyed by original transaction id. The creation
// timestamp is stamped only when the row is new; concurrent callers resolve
// by last-writer-wins inside the transaction. The merged state is written
// back into link.
func (s *LinkService) Upsert(link *models.SubscriptionLink) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.SubscriptionLink
		err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("original_transaction_id = ?", link.OriginalTransactionID).
			First(&existing).Error

		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(link).Error
			}
			return err
		}

		if existing.UserID != "" && link.UserID != "" && existing.UserID != link.UserID {
			logging.Errorf("Link user mismatch - original_transaction_id: %s, existing_user: %s, new_user: %s",
				link.OriginalTransactionID, existing.UserID, link.UserID)
		}

		existing.UserID = link.UserID
		existing.AppAccountToken = link.AppAccountToken
		existing.TransactionID = link.TransactionID
		if link.ProductID != "" {
			existing.ProductID = link.ProductID
		}
		if link.Source != "" {
			existing.Source = link.Source
		}

		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		*link = existing
		return nil
	})
}

// GetByOriginalTransactionID gets a link by its key
func (s *LinkService) GetByOriginalTransactionID(originalTransactionID string) (*models.SubscriptionLink, error) {
	var link models.SubscriptionLink
	err := s.db.Where("original_transaction_id = ?", originalTransactionID).First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetByAppAccountToken gets a link by the anonymous purchase token
func (s *LinkService) GetByAppAccountToken(appAccountToken string) (*models.SubscriptionLink, error) {
	var link models.SubscriptionLink
	err := s.db.Where("app_account_token = ?", appAccountToken).First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// List returns up to limit links in insertion order. The retry sweep reads a
// single bounded page; it is not resumed across runs.
func (s *LinkService) List(limit int) ([]models.SubscriptionLink, error) {
	var links []models.SubscriptionLink
	err := s.db.Order("id").Limit(limit).Find(&links).Error
	return links, err
}

// TouchBackfill stamps the last completed history replay
func (s *LinkService) TouchBackfill(originalTransactionID string) error {
	now := time.Now()
	return s.db.Model(&models.SubscriptionLink{}).
		Where("original_transaction_id = ?", originalTransactionID).
		Update("last_backfill_at", now).Error
}
