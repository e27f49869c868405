// Package signing authenticates requests to off-chain services with an
// HMAC-SHA256 signature over the timestamp, method, path and body.
package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"flowforge/internal/capability"
	xerrors "flowforge/internal/errors"
)

const (
	HeaderTimestamp = "x-timestamp"
	HeaderSignature = "x-signature"
)

// Message builds the signed string "timestamp:METHOD:path:body".
func Message(method, path, body, timestamp string) string {
	return timestamp + ":" + strings.ToUpper(method) + ":" + path + ":" + body
}

// Sign returns the hex encoded HMAC-SHA256 of the request under secret.
func Sign(secret, method, path, body, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Message(method, path, body, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the request. It compares in
// constant time.
func Verify(secret, method, path, body, timestamp, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(Sign(secret, method, path, body, timestamp))
	return hmac.Equal(provided, expected)
}

// Signer signs outgoing requests with a secret looked up per call.
type Signer struct {
	secrets  capability.SecretStore
	secretID string
	clock    capability.Clock
}

// NewSigner returns a Signer reading secretID from secrets.
func NewSigner(secrets capability.SecretStore, secretID string, clock capability.Clock) *Signer {
	if clock == nil {
		clock = capability.SystemClock{}
	}
	return &Signer{secrets: secrets, secretID: secretID, clock: clock}
}

// Apply sets the timestamp and signature headers on req. path is the
// endpoint path the service verifies against, independent of any base path
// in req.URL. body must be the exact bytes that will be sent.
func (s *Signer) Apply(ctx context.Context, req *http.Request, path string, body []byte) error {
	if s == nil || s.secrets == nil {
		return xerrors.New(xerrors.CodeMissingConfiguration, "secret store not configured")
	}
	secret, err := s.secrets.GetSecret(ctx, s.secretID)
	if xerrors.HasCode(err, xerrors.CodeNotFound) {
		return xerrors.New(xerrors.CodeMissingConfiguration, fmt.Sprintf("Missing %s", s.secretID))
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeMissingConfiguration, err, fmt.Sprintf("Missing %s", s.secretID))
	}
	if secret == "" {
		return xerrors.New(xerrors.CodeMissingConfiguration, fmt.Sprintf("Missing %s", s.secretID))
	}
	timestamp := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(secret, req.Method, path, string(body), timestamp))
	return nil
}
