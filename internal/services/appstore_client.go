package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"heartpulse-billing/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	appStoreProductionURL = "https://api.storekit.itunes.apple.com"
	appStoreSandboxURL    = "https://api.storekit-sandbox.itunes.apple.com"
)

// AppStoreClient calls the App Store Server API with a signed JWT credential
type AppStoreClient struct {
	httpClient *http.Client
	baseURL    string
	issuerID   string
	keyID      string
	bundleID   string
	privateKey *ecdsa.PrivateKey
}

// AppStoreCredentials holds the server API signing configuration
type AppStoreCredentials struct {
	IssuerID    string
	KeyID       string
	BundleID    string
	PrivateKey  string // PEM
	Environment string // "Production" or "Sandbox"
}

// NewAppStoreClient builds a client from the configured credentials. Missing
// or unparseable credentials are an error for the calling operation.
func NewAppStoreClient(creds AppStoreCredentials) (*AppStoreClient, error) {
	if creds.IssuerID == "" || creds.KeyID == "" || creds.PrivateKey == "" {
		return nil, fmt.Errorf("app store server API credentials are not configured")
	}

	key, err := parsePrivateKey([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse app store private key: %w", err)
	}

	baseURL := appStoreProductionURL
	if strings.EqualFold(creds.Environment, "Sandbox") {
		baseURL = appStoreSandboxURL
	}

	return &AppStoreClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		issuerID:   creds.IssuerID,
		keyID:      creds.KeyID,
		bundleID:   creds.BundleID,
		privateKey: key,
	}, nil
}

// parsePrivateKey parses a PEM-encoded EC key, PKCS8 first
func parsePrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T, want ECDSA", key)
		}
		return ecKey, nil
	}

	return x509.ParseECPrivateKey(block.Bytes)
}

// token signs a short-lived App Store Connect API token
func (c *AppStoreClient) token() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"aud": "appstoreconnect-v1",
		"bid": c.bundleID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.keyID

	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app store token: %w", err)
	}
	return signed, nil
}

// TransactionHistory fetches one page of a subscription's transaction
// history: ascending order, revoked transactions excluded, auto-renewable
// products only. An empty revision requests the first page.
func (c *AppStoreClient) TransactionHistory(ctx context.Context, originalTransactionID, revision string) (*models.TransactionHistoryResponse, error) {
	bearer, err := c.token()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("sort", "ASCENDING")
	query.Set("revoked", "false")
	query.Set("productType", "AUTO_RENEWABLE")
	if revision != "" {
		query.Set("revision", revision)
	}

	endpoint := fmt.Sprintf("%s/inApps/v1/history/%s?%s", c.baseURL, originalTransactionID, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction history: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr models.AppStoreErrorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrorCode != 0 {
			return nil, fmt.Errorf("app store server error %d: %s", apiErr.ErrorCode, apiErr.ErrorMessage)
		}
		return nil, fmt.Errorf("app store server returned status %d", resp.StatusCode)
	}

	var page models.TransactionHistoryResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse history response: %w", err)
	}
	return &page, nil
}
