package api

import (
	"net/http"

	"heartpulse-billing/internal/response"
	"heartpulse-billing/internal/services"
	"heartpulse-billing/pkg/logging"

	"github.com/gin-gonic/gin"
)

// BackfillRequest represents the batch backfill request
type BackfillRequest struct {
	OriginalTransactionIDs []string `json:"originalTransactionIds"`
}

// BackfillSubscriptions replays transaction history for a batch of links
// POST /api/subscription/backfill
// Each target is isolated: one failing id never aborts its siblings.
func BackfillSubscriptions(c *gin.Context) {
	var req BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}
	if len(req.OriginalTransactionIDs) == 0 {
		response.Fail(c, http.StatusBadRequest, "originalTransactionIds must not be empty")
		return
	}

	results := make([]services.BackfillResult, 0, len(req.OriginalTransactionIDs))
	for _, id := range req.OriginalTransactionIDs {
		result, err := deps.Backfill.Run(c.Request.Context(), id)
		if err != nil {
			logging.Errorf("Backfill failed - original_transaction_id: %s, error: %v", id, err)
			results = append(results, services.BackfillResult{
				OriginalTransactionID: id,
				Reason:                err.Error(),
			})
			continue
		}
		results = append(results, *result)
	}

	response.OK(c, gin.H{"results": results})
}
