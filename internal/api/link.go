package api

import (
	"net/http"

	"heartpulse-billing/internal/models"
	"heartpulse-billing/internal/response"
	"heartpulse-billing/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LinkSubscriptionRequest represents the identity link request
type LinkSubscriptionRequest struct {
	PurchaseToken         string `json:"purchaseToken"`
	OriginalTransactionID string `json:"originalTransactionId"`
	TransactionID         string `json:"transactionId"`
	ProductID             string `json:"productId"`
	Source                string `json:"source"`
}

// LinkSubscription binds an anonymous purchase to the authenticated user
// POST /api/subscription/link
// Called by the client right after a purchase, so that a webhook arriving
// later can resolve the user. Safe to call again after the webhook too.
func LinkSubscription(c *gin.Context) {
	var req LinkSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	if req.PurchaseToken == "" || req.OriginalTransactionID == "" || req.TransactionID == "" {
		response.Fail(c, http.StatusBadRequest, "purchaseToken, originalTransactionId and transactionId are required")
		return
	}
	if _, err := uuid.Parse(req.PurchaseToken); err != nil {
		response.Fail(c, http.StatusBadRequest, "purchaseToken must be a UUID")
		return
	}

	userID := c.GetString("user_id")

	link := &models.SubscriptionLink{
		OriginalTransactionID: req.OriginalTransactionID,
		UserID:                userID,
		AppAccountToken:       req.PurchaseToken,
		TransactionID:         req.TransactionID,
		ProductID:             req.ProductID,
		Source:                req.Source,
	}
	if err := deps.Links.Upsert(link); err != nil {
		logging.Errorf("Failed to upsert subscription link: %v", err)
		response.Fail(c, http.StatusInternalServerError, "Failed to register link")
		return
	}

	logging.Infof("Subscription linked - user: %s, original_transaction_id: %s", userID, req.OriginalTransactionID)

	response.OK(c, gin.H{
		"userId":                userID,
		"originalTransactionId": req.OriginalTransactionID,
	})
}
