package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const signaturePrefix = "sha256="

// Verify reports whether header carries the HMAC-SHA256 of body under secret.
// header is "sha256=<hex>" (X-Hub-Signature-256) or bare hex. It must be
// given the raw request bytes. Any malformed input yields false.
func Verify(body []byte, header string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	got, err := parseSignature(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return subtle.ConstantTimeCompare(mac.Sum(nil), got) == 1
}

// parseSignature strips the algorithm prefix and decodes the digest.
func parseSignature(header string) ([]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, errors.New("empty signature")
	}
	digest := strings.TrimPrefix(header, signaturePrefix)
	sig, err := hex.DecodeString(digest)
	if err != nil {
		return nil, err
	}
	if len(sig) != sha256.Size {
		return nil, errors.New("signature has wrong length")
	}
	// The platform sends lowercase hex; a case change is a different header.
	if hex.EncodeToString(sig) != digest {
		return nil, errors.New("signature hex is not lowercase")
	}
	return sig, nil
}

// computeSignature returns the hex HMAC-SHA256 of body.
func computeSignature(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// formatSignature renders a hex digest as an X-Hub-Signature-256 value.
func formatSignature(hexSig string) string {
	return signaturePrefix + hexSig
}
