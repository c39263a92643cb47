package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// AccessToken issues the bearer token a lead uses to read and extend
// its own conversation: the conversation id joined with a hex HMAC of
// that id under the server secret. The token is embedded in the
// results URL, so possession of the link is possession of the
// conversation.
func AccessToken(secret, conversationID string) string {
	return conversationID + ":" + sign(secret, conversationID)
}

// VerifyAccessToken checks a presented token and returns the
// conversation id it grants access to.
func VerifyAccessToken(secret, token string) (string, bool) {
	id, mac, ok := strings.Cut(token, ":")
	if !ok || id == "" || mac == "" {
		return "", false
	}
	if !safeEqual(mac, sign(secret, id)) {
		return "", false
	}
	return id, true
}

func sign(secret, conversationID string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(conversationID))
	return hex.EncodeToString(h.Sum(nil))
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
