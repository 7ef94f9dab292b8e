package services

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"heartpulse-billing/internal/models"
)

// ErrVerificationFailed marks a trust-chain or signature failure. Handlers
// surface it as a client error; the platform's own redelivery governs retry.
var ErrVerificationFailed = errors.New("signed payload verification failed")

// SignedPayloadVerifier 验证 App Store 签名负载
// Validates JWS payloads against a configured set of trusted root
// certificates, plus the expected environment and app identity.
type SignedPayloadVerifier struct {
	roots       *x509.CertPool
	environment string
	bundleID    string
	appAppleID  int64
}

// jwsHeader is the decoded protected header of an App Store JWS
type jwsHeader struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c"`
}

// NewSignedPayloadVerifier creates a verifier from base64-encoded DER root
// certificates and the expected app identity.
func NewSignedPayloadVerifier(rootCerts []string, environment, bundleID string, appAppleID int64) (*SignedPayloadVerifier, error) {
	if len(rootCerts) == 0 {
		return nil, fmt.Errorf("no trusted root certificates configured")
	}

	roots := x509.NewCertPool()
	for i, encoded := range rootCerts {
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode root certificate %d: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse root certificate %d: %w", i, err)
		}
		roots.AddCert(cert)
	}

	return &SignedPayloadVerifier{
		roots:       roots,
		environment: environment,
		bundleID:    bundleID,
		appAppleID:  appAppleID,
	}, nil
}

// VerifyNotification verifies and decodes an App Store Server Notification V2
// signedPayload. The certificate chain, environment, and app identity must
// all match the configured expectations.
func (v *SignedPayloadVerifier) VerifyNotification(signedPayload string) (*models.AppStoreNotification, error) {
	payload, err := v.verify(signedPayload)
	if err != nil {
		return nil, err
	}

	var notification models.AppStoreNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, fmt.Errorf("%w: invalid notification payload: %v", ErrVerificationFailed, err)
	}

	if !strings.EqualFold(notification.Data.Environment, v.environment) {
		return nil, fmt.Errorf("%w: environment mismatch: got %q, want %q",
			ErrVerificationFailed, notification.Data.Environment, v.environment)
	}
	if v.bundleID != "" && notification.Data.BundleID != v.bundleID {
		return nil, fmt.Errorf("%w: bundle id mismatch: got %q, want %q",
			ErrVerificationFailed, notification.Data.BundleID, v.bundleID)
	}
	if v.appAppleID != 0 && notification.Data.AppAppleID != 0 && notification.Data.AppAppleID != v.appAppleID {
		return nil, fmt.Errorf("%w: app Apple id mismatch: got %d, want %d",
			ErrVerificationFailed, notification.Data.AppAppleID, v.appAppleID)
	}

	return &notification, nil
}

// VerifyTransaction verifies and decodes an embedded signedTransactionInfo
// JWS. When the token carries no certificate chain the payload is decoded
// structurally without verification; the outer notification has already been
// verified at that point, so this is a compatibility shim rather than a trust
// decision.
func (v *SignedPayloadVerifier) VerifyTransaction(signedTransaction string) (*models.AppStoreTransaction, error) {
	header, err := decodeHeader(signedTransaction)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if len(header.X5c) == 0 {
		payload, err = decodePayloadSegment(signedTransaction)
	} else {
		payload, err = v.verify(signedTransaction)
	}
	if err != nil {
		return nil, err
	}

	var transaction models.AppStoreTransaction
	if err := json.Unmarshal(payload, &transaction); err != nil {
		return nil, fmt.Errorf("failed to parse transaction payload: %w", err)
	}
	return &transaction, nil
}

// DecodeTransaction decodes a signed transaction structurally without
// verifying the signature. Used for history pages fetched directly from the
// App Store Server API over TLS.
func DecodeTransaction(signedTransaction string) (*models.AppStoreTransaction, error) {
	payload, err := decodePayloadSegment(signedTransaction)
	if err != nil {
		return nil, err
	}
	var transaction models.AppStoreTransaction
	if err := json.Unmarshal(payload, &transaction); err != nil {
		return nil, fmt.Errorf("failed to parse transaction payload: %w", err)
	}
	return &transaction, nil
}

// verify checks the x5c chain and ES256 signature of a JWS and returns the
// decoded payload bytes.
func (v *SignedPayloadVerifier) verify(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 JWS segments, got %d", ErrVerificationFailed, len(parts))
	}

	header, err := decodeHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Alg != "ES256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrVerificationFailed, header.Alg)
	}
	if len(header.X5c) == 0 {
		return nil, fmt.Errorf("%w: missing certificate chain", ErrVerificationFailed)
	}

	leaf, intermediates, err := parseChain(header.X5c)
	if err != nil {
		return nil, err
	}

	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("%w: certificate chain: %v", ErrVerificationFailed, err)
	}

	publicKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf certificate key is %T, want ECDSA", ErrVerificationFailed, leaf.PublicKey)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature encoding: %v", ErrVerificationFailed, err)
	}
	if len(signature) != 64 {
		return nil, fmt.Errorf("%w: invalid ES256 signature length %d", ErrVerificationFailed, len(signature))
	}

	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	if !ecdsa.Verify(publicKey, digest[:], r, s) {
		return nil, fmt.Errorf("%w: signature does not match", ErrVerificationFailed)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload encoding: %v", ErrVerificationFailed, err)
	}
	return payload, nil
}

// decodeHeader decodes the protected header segment
func decodeHeader(token string) (*jwsHeader, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 JWS segments, got %d", ErrVerificationFailed, len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid header encoding: %v", ErrVerificationFailed, err)
	}
	var header jwsHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: invalid header: %v", ErrVerificationFailed, err)
	}
	return &header, nil
}

// decodePayloadSegment decodes the payload segment without verification
func decodePayloadSegment(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWS format: expected 3 parts, got %d", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWS payload: %w", err)
	}
	return payload, nil
}

// parseChain parses the x5c certificate list: leaf first, then intermediates
func parseChain(x5c []string) (*x509.Certificate, *x509.CertPool, error) {
	var leaf *x509.Certificate
	intermediates := x509.NewCertPool()

	for i, encoded := range x5c {
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid x5c entry %d: %v", ErrVerificationFailed, i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid certificate %d: %v", ErrVerificationFailed, i, err)
		}
		if i == 0 {
			leaf = cert
		} else {
			intermediates.AddCert(cert)
		}
	}

	return leaf, intermediates, nil
}
