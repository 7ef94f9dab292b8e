package api

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"heartpulse-billing/internal/config"
	"heartpulse-billing/internal/database"
	"heartpulse-billing/internal/models"
	"heartpulse-billing/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const testAuthSecret = "test-auth-secret"

// signingAuthority mirrors the platform's x5c signing setup for tests
type signingAuthority struct {
	rootDER []byte
	leafDER []byte
	leafKey *ecdsa.PrivateKey
}

func newSigningAuthority(t *testing.T) *signingAuthority {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test Signer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, rootCert, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)

	return &signingAuthority{rootDER: rootDER, leafDER: leafDER, leafKey: leafKey}
}

func (a *signingAuthority) sign(t *testing.T, payload interface{}) string {
	t.Helper()
	header := map[string]interface{}{
		"alg": "ES256",
		"x5c": []string{
			base64.StdEncoding.EncodeToString(a.leafDER),
			base64.StdEncoding.EncodeToString(a.rootDER),
		},
	}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	digest := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, a.leafKey, digest[:])
	require.NoError(t, err)

	signature := make([]byte, 64)
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature)
}

// newTestRouter wires a router against an isolated database and a verifier
// trusting the given authority.
func newTestRouter(t *testing.T, authority *signingAuthority) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config.AppConfig = &config.Config{AuthJWTSecret: testAuthSecret}

	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	verifier, err := services.NewSignedPayloadVerifier(
		[]string{base64.StdEncoding.EncodeToString(authority.rootDER)},
		"Production", "com.heartpulse.app", 0)
	require.NoError(t, err)

	links := services.NewLinkService(db)
	aggregator := services.NewAggregator(db)
	reconciler := services.NewReconciler(db, links, aggregator)

	r := gin.New()
	SetupRoutes(r, &Dependencies{
		Links:      links,
		Reconciler: reconciler,
		Verifier:   verifier,
	})
	return r, db
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testAuthSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doJSON(r *gin.Engine, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsNonPOST(t *testing.T) {
	r, _ := newTestRouter(t, newSigningAuthority(t))

	w := doJSON(r, http.MethodGet, "/api/appstore/notifications", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestWebhookRejectsMissingSignedPayload(t *testing.T) {
	r, _ := newTestRouter(t, newSigningAuthority(t))

	w := doJSON(r, http.MethodPost, "/api/appstore/notifications", "", gin.H{"signedPayload": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	r, _ := newTestRouter(t, newSigningAuthority(t))

	w := doJSON(r, http.MethodPost, "/api/appstore/notifications", "", gin.H{"signedPayload": "aaa.bbb.ccc"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookIgnoresNotificationWithoutTransaction(t *testing.T) {
	authority := newSigningAuthority(t)
	r, _ := newTestRouter(t, authority)

	payload := authority.sign(t, models.AppStoreNotification{
		NotificationType: "TEST",
		NotificationUUID: uuid.NewString(),
		Data: models.NotificationData{
			BundleID:    "com.heartpulse.app",
			Environment: "Production",
		},
	})

	w := doJSON(r, http.MethodPost, "/api/appstore/notifications", "", gin.H{"signedPayload": payload})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["ignored"])
}

func TestWebhookStoresVerifiedTransaction(t *testing.T) {
	authority := newSigningAuthority(t)
	r, db := newTestRouter(t, authority)

	transaction := authority.sign(t, models.AppStoreTransaction{
		TransactionID:         "txn-w1",
		OriginalTransactionID: "orig-w1",
		AppAccountToken:       uuid.NewString(),
		ProductID:             "com.heartpulse.premium.monthly",
		Currency:              "USD",
		Price:                 12990,
		PurchaseDate:          time.Now().UnixMilli(),
	})
	payload := authority.sign(t, models.AppStoreNotification{
		NotificationType: "SUBSCRIBED",
		NotificationUUID: uuid.NewString(),
		Data: models.NotificationData{
			BundleID:              "com.heartpulse.app",
			Environment:           "Production",
			SignedTransactionInfo: transaction,
		},
	})

	w := doJSON(r, http.MethodPost, "/api/appstore/notifications", "", gin.H{"signedPayload": payload})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["linked"], "no identity link registered yet")
	assert.Equal(t, "txn-w1", body["transactionId"])

	var count int64
	require.NoError(t, db.Table(models.UnlinkedTransactionTable).Where("transaction_id = ?", "txn-w1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestLinkRequiresAuthentication(t *testing.T) {
	r, _ := newTestRouter(t, newSigningAuthority(t))

	w := doJSON(r, http.MethodPost, "/api/subscription/link", "", gin.H{
		"purchaseToken":         uuid.NewString(),
		"originalTransactionId": "orig-1",
		"transactionId":         "txn-1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLinkValidatesInput(t *testing.T) {
	r, _ := newTestRouter(t, newSigningAuthority(t))

	// Missing transactionId
	w := doJSON(r, http.MethodPost, "/api/subscription/link", bearerToken(t, "user-1"), gin.H{
		"purchaseToken":         uuid.NewString(),
		"originalTransactionId": "orig-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Purchase token must be a UUID
	w = doJSON(r, http.MethodPost, "/api/subscription/link", bearerToken(t, "user-1"), gin.H{
		"purchaseToken":         "not-a-uuid",
		"originalTransactionId": "orig-1",
		"transactionId":         "txn-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLinkRegistersSubscriptionLink(t *testing.T) {
	r, db := newTestRouter(t, newSigningAuthority(t))

	token := uuid.NewString()
	w := doJSON(r, http.MethodPost, "/api/subscription/link", bearerToken(t, "user-1"), gin.H{
		"purchaseToken":         token,
		"originalTransactionId": "orig-1",
		"transactionId":         "txn-1",
		"productId":             "com.heartpulse.premium.monthly",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "user-1", body["userId"])
	assert.Equal(t, "orig-1", body["originalTransactionId"])

	var link models.SubscriptionLink
	require.NoError(t, db.Where("original_transaction_id = ?", "orig-1").First(&link).Error)
	assert.Equal(t, "user-1", link.UserID)
	assert.Equal(t, token, link.AppAccountToken)
}

func TestBackfillEndpointValidatesInput(t *testing.T) {
	r, _ := newTestRouter(t, newSigningAuthority(t))

	w := doJSON(r, http.MethodPost, "/api/subscription/backfill", "", gin.H{"originalTransactionIds": []string{"orig-1"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/api/subscription/backfill", bearerToken(t, "user-1"), gin.H{"originalTransactionIds": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, newSigningAuthority(t))

	w := doJSON(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
