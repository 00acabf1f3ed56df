package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureVerifier authenticates gateway callbacks signed with a shared secret.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier constructs a verifier. The secret must not be empty.
func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("payments: callback secret is required")
	}
	return &SignatureVerifier{secret: []byte(secret)}, nil
}

// Sign returns hex(HMAC-SHA256(secret, gatewayOrderID + "|" + gatewayPaymentID)).
func (v *SignatureVerifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches. Comparison is constant time.
func (v *SignatureVerifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if v == nil || signature == "" {
		return false
	}
	expected := v.Sign(gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
