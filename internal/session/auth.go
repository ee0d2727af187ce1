package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
)

// Signer produces the signature carried by the auth frame.
type Signer interface {
	Sign(deviceID, sessionID string, timestamp int64) (string, error)
}

// HMACSigner signs "deviceId:sessionId:timestamp" with HMAC-SHA256 using
// the device secret issued by the login flow.
type HMACSigner struct {
	Secret []byte
}

// Sign returns the hex encoded MAC.
func (s HMACSigner) Sign(deviceID, sessionID string, timestamp int64) (string, error) {
	if len(s.Secret) == 0 {
		return "", fmt.Errorf("hmac signer: empty secret")
	}
	mac := hmac.New(sha256.New, s.Secret)
	fmt.Fprintf(mac, "%s:%s:%d", deviceID, sessionID, timestamp)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// GatewayURL builds the channel URL for a device session:
// {ws|wss}://{addr}/ws/devices/{deviceId}/sessions/{sessionId}.
func GatewayURL(addr string, secure bool, deviceID, sessionID string) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws/devices/%s/sessions/%s",
		scheme, addr, url.PathEscape(deviceID), url.PathEscape(sessionID))
}
