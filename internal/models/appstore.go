package models

// AppStoreNotificationWrapper represents the outer wrapper of App Store Server Notification V2
// Apple sends notifications as a JWS in the signedPayload field
type AppStoreNotificationWrapper struct {
	SignedPayload string `json:"signedPayload"`
}

// AppStoreNotification represents App Store Server Notification V2
// This is the decoded content of the signedPayload JWS
// Apple uses camelCase for field names
type AppStoreNotification struct {
	NotificationType string           `json:"notificationType"` // e.g., "SUBSCRIBED", "DID_RENEW"
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`
}

// NotificationData contains the notification data payload
type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"` // "Sandbox" or "Production"
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// AppStoreTransaction represents the decoded signedTransactionInfo payload,
// shared by notifications and the transaction history API.
type AppStoreTransaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	WebOrderLineItemID    string `json:"webOrderLineItemId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	AppAccountToken       string `json:"appAccountToken"`
	PurchaseDate          int64  `json:"purchaseDate"` // milliseconds
	OriginalPurchaseDate  int64  `json:"originalPurchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	Type                  string `json:"type"`
	InAppOwnershipType    string `json:"inAppOwnershipType"`
	SignedDate            int64  `json:"signedDate"`
	Environment           string `json:"environment"`
	TransactionReason     string `json:"transactionReason"` // "PURCHASE" or "RENEWAL"
	Currency              string `json:"currency"`
	Price                 int64  `json:"price"`
	RevocationDate        int64  `json:"revocationDate,omitempty"`
	RevocationReason      int    `json:"revocationReason,omitempty"`
}

// TransactionHistoryResponse is a single page of the App Store Server API
// transaction history endpoint. The revision token carries pagination state
// forward; hasMore reports whether another page exists.
type TransactionHistoryResponse struct {
	Revision           string   `json:"revision"`
	BundleID           string   `json:"bundleId"`
	AppAppleID         int64    `json:"appAppleId"`
	Environment        string   `json:"environment"`
	HasMore            bool     `json:"hasMore"`
	SignedTransactions []string `json:"signedTransactions"`
}

// AppStoreErrorResponse is the error body returned by the App Store Server API
type AppStoreErrorResponse struct {
	ErrorCode    int64  `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}
