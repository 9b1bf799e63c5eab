package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"

	"poselink/internal/constants"
)

const nonceSize = 8

// tokenKey derives the 32-byte MAC key from the configured server
// secret. The salt and info strings pin the derivation to this use so a
// future key consumer cannot collide with it.
func tokenKey(secret string) []byte {
	kdf := hkdf.New(sha256.New, []byte(secret), []byte("poselink-token"), []byte("token-mac"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		panic("hkdf read failed: " + err.Error())
	}
	return key
}

// mintToken derives an opaque credential from the device id, a
// high-resolution timestamp and a per-call random nonce, authenticated
// with the server key. The nonce and timestamp guarantee two calls for
// the same device never collide, even in the same instant.
func mintToken(key []byte, deviceID string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}

	payload := deviceID + "|" + strconv.FormatInt(time.Now().UnixNano(), 10) + "|" + hex.EncodeToString(nonce)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))

	raw := append(nonce, mac.Sum(nil)...)
	return hex.EncodeToString(raw), nil
}

// MintToken derives a credential outside a running service, for tools
// and the device simulator that share the server secret.
func MintToken(secret, deviceID string) (string, error) {
	return mintToken(tokenKey(secret), deviceID)
}

// ValidateToken checks structural well-formedness only: non-empty,
// length within bounds, and a clean hex decode. It deliberately does
// NOT recompute or compare the authentication code — credential
// verification beyond the format check is a placeholder for a later
// phase.
func ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	if len(token) < constants.TokenMinLen || len(token) > constants.TokenMaxLen {
		return false
	}
	if _, err := hex.DecodeString(token); err != nil {
		return false
	}
	return true
}
