package billing

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// SecretResolver returns the webhook secret for a provider, or "" when the
// provider is unknown or unconfigured.
type SecretResolver func(provider string) string

// EnvSecretResolver resolves provider secrets from WEBHOOK_SECRET_<PROVIDER>.
func EnvSecretResolver(provider string) string {
	p := strings.ToUpper(strings.TrimSpace(provider))
	if p == "" {
		return ""
	}
	return strings.TrimSpace(env.GetEnv("WEBHOOK_SECRET_"+p, ""))
}

// VerifyWebhookSignature checks the HMAC of the exact raw body against the
// hex signature header. Verification runs on the unparsed byte sequence so a
// re-encoded but semantically equal body cannot slip past the check.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	if verifyHMAC(payload, decodedSig, []byte(secret), sha256.New) {
		return true
	}
	// Legacy providers (Patreon-style) sign with HMAC-MD5.
	return verifyHMAC(payload, decodedSig, []byte(secret), md5.New)
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
