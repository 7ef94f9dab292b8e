package api

import (
	"net/http"
	"time"

	"heartpulse-billing/internal/models"
	"heartpulse-billing/internal/response"
	"heartpulse-billing/internal/services"
	"heartpulse-billing/pkg/logging"

	"github.com/gin-gonic/gin"
)

// AppStoreNotificationHandler ingests App Store Server Notifications V2
// POST /api/appstore/notifications
// Verification failures are never retried locally; Apple's own redelivery
// governs recovery, which is safe because verification is a pure function of
// the payload.
func AppStoreNotificationHandler(c *gin.Context) {
	startTime := time.Now()

	var wrapper models.AppStoreNotificationWrapper
	if err := c.ShouldBindJSON(&wrapper); err != nil {
		logging.Errorf("Failed to parse notification wrapper: %v", err)
		response.Fail(c, http.StatusBadRequest, "Invalid notification format")
		return
	}
	if wrapper.SignedPayload == "" {
		response.Fail(c, http.StatusBadRequest, "signedPayload is missing")
		return
	}

	notification, err := deps.Verifier.VerifyNotification(wrapper.SignedPayload)
	if err != nil {
		logging.Errorf("Notification verification failed: %v", err)
		response.Fail(c, http.StatusForbidden, "Signature verification failed")
		return
	}

	logging.Infof("Verified notification - type: %s, subtype: %s, uuid: %s, bundle_id: %s",
		notification.NotificationType, notification.Subtype, notification.NotificationUUID, notification.Data.BundleID)

	// Heartbeat-style payloads carry no notification type
	if notification.NotificationType == "" {
		response.Ignored(c, "empty notification type")
		return
	}
	if notification.Data.SignedTransactionInfo == "" {
		response.Ignored(c, "no transaction info")
		return
	}

	transaction, err := deps.Verifier.VerifyTransaction(notification.Data.SignedTransactionInfo)
	if err != nil {
		// The outer payload already verified; an undecodable inner token is a
		// business no-op, not a fault worth a retry storm.
		logging.Errorf("Failed to decode transaction info: %v", err)
		response.Ignored(c, "transaction info not decodable")
		return
	}
	if transaction.TransactionID == "" {
		response.Ignored(c, "no transaction id")
		return
	}

	record := buildNotificationRecord(notification, transaction)
	result, err := deps.Reconciler.Upsert(record)
	if err != nil {
		logging.Errorf("Failed to reconcile transaction %s: %v", transaction.TransactionID, err)
		response.Fail(c, http.StatusInternalServerError, "Failed to process notification")
		return
	}

	logging.Infof("Notification processed - type: %s, transaction: %s, partition: %s, applied: %t, time: %v",
		notification.NotificationType, transaction.TransactionID, result.Partition, result.Applied, time.Since(startTime))

	response.OK(c, gin.H{
		"linked":                result.UserID != "",
		"transactionId":         transaction.TransactionID,
		"originalTransactionId": transaction.OriginalTransactionID,
	})
}

// buildNotificationRecord maps a verified notification and its embedded
// transaction into a canonical ledger record. The renewal flag comes from the
// notification type here; backfill derives it from the transaction reason.
func buildNotificationRecord(notification *models.AppStoreNotification, transaction *models.AppStoreTransaction) *models.BillingTransaction {
	return &models.BillingTransaction{
		TransactionID:         transaction.TransactionID,
		OriginalTransactionID: transaction.OriginalTransactionID,
		NotificationUUID:      notification.NotificationUUID,
		AppAccountToken:       transaction.AppAccountToken,
		ProductID:             transaction.ProductID,
		Currency:              transaction.Currency,
		AmountMinor:           transaction.Price,
		AmountDecimal:         services.DeriveAmountDecimal(transaction.Price),
		PurchasedAt:           time.UnixMilli(transaction.PurchaseDate),
		ExpiresAt:             time.UnixMilli(transaction.ExpiresDate),
		Source:                models.SourceNotification,
		NotificationType:      notification.NotificationType,
		NotificationSubtype:   notification.Subtype,
		IsRenewal:             notification.NotificationType == "DID_RENEW",
	}
}
