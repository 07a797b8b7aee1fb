// Package trust holds the in-memory timed credentials guarding the admin
// surface: one-time passwords, the temp admin tokens they mint, the IP
// blacklist, and the failed-auth tracker that feeds it.
package trust

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
)

// OTPTTL is how long a one-time password stays redeemable.
const OTPTTL = 5 * time.Minute

type otpRequest struct {
	otp       string
	expiresAt time.Time
}

// OTPStore issues and redeems single-use admin OTPs keyed by session id.
type OTPStore struct {
	mu   sync.Mutex
	reqs map[string]otpRequest
	now  func() time.Time
}

// NewOTPStore returns an empty OTP store.
func NewOTPStore() *OTPStore {
	return &OTPStore{reqs: map[string]otpRequest{}, now: time.Now}
}

// Create mints a new OTP request and returns its session id and password.
// The password is surfaced through the server log only, never the response.
func (s *OTPStore) Create() (ssid, otp string) {
	ssid = uuid.NewString()
	otp = randomOTP()

	s.mu.Lock()
	s.reqs[ssid] = otpRequest{otp: otp, expiresAt: s.now().Add(OTPTTL)}
	s.mu.Unlock()

	logging.Info(context.Background(), "admin otp issued",
		zap.String("ssid", ssid), zap.String("otp", otp))
	return ssid, otp
}

// Verify redeems an OTP. The request is removed regardless of the outcome,
// so a wrong guess burns it. Comparison is case-insensitive.
func (s *OTPStore) Verify(ssid, otp string) bool {
	s.mu.Lock()
	req, ok := s.reqs[ssid]
	delete(s.reqs, ssid)
	s.mu.Unlock()
	if !ok || s.now().After(req.expiresAt) {
		return false
	}
	return strings.EqualFold(req.otp, otp)
}

// randomOTP returns 6 lowercased URL-safe base64 characters.
func randomOTP() string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	return strings.ToLower(base64.RawURLEncoding.EncodeToString(buf[:])[:6])
}
