package adapters

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/smallbiznis/dashvault/internal/webhook/domain"
)

// VerifyHMAC checks a hex HMAC-SHA256 signature header against the raw
// body. The header may be the bare digest, carry a "sha256=" or "v1="
// prefix, or be a "t=<ts>,v1=<sig>[,v1=<sig>]" list. With a timestamp the
// digest may also cover "<ts>.<body>".
func VerifyHMAC(secret string, payload []byte, header string) error {
	secret = strings.TrimSpace(secret)
	header = strings.TrimSpace(header)
	if secret == "" || header == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures := parseSignatureHeader(header)
	if len(signatures) == 0 {
		return domain.ErrInvalidSignature
	}

	expected := [][]byte{[]byte(sign(secret, payload))}
	if timestamp != "" {
		signed := make([]byte, 0, len(timestamp)+1+len(payload))
		signed = append(signed, timestamp...)
		signed = append(signed, '.')
		signed = append(signed, payload...)
		expected = append(expected, []byte(sign(secret, signed)))
	}

	for _, signature := range signatures {
		candidate := []byte(strings.ToLower(signature))
		for _, want := range expected {
			if hmac.Equal(candidate, want) {
				return nil
			}
		}
	}
	return domain.ErrInvalidSignature
}

// Sign returns the hex digest a provider would send for payload.
func Sign(secret string, payload []byte) string {
	return sign(secret, payload)
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, []string) {
	if !strings.Contains(header, "=") {
		return "", []string{header}
	}

	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(keyValue[0]))
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			timestamp = value
		case "v1", "sha256":
			if value != "" {
				signatures = append(signatures, value)
			}
		}
	}
	return timestamp, signatures
}
