package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/otp"
)

type otpStoreRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	OTP         string          `json:"otp"`
	ExpiryTime  json.RawMessage `json:"expiryTime"`
}

type otpVerifyRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
}

var errBadExpiry = errors.New("expiryTime must be unix milliseconds or an RFC 3339 timestamp")

// parseExpiry accepts a JSON number of Unix milliseconds or an RFC 3339 string.
func parseExpiry(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errBadExpiry
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, errBadExpiry
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return time.Time{}, errBadExpiry
		}
		return t, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, errBadExpiry
	}
	ms, err := n.Int64()
	if err != nil || ms <= 0 {
		return time.Time{}, errBadExpiry
	}
	return time.UnixMilli(ms), nil
}

func (a *API) handleOTPStore(w http.ResponseWriter, r *http.Request) {
	var req otpStoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" || strings.TrimSpace(req.OTP) == "" || len(req.ExpiryTime) == 0 {
		writeError(w, r, http.StatusBadRequest, "phoneNumber, otp and expiryTime are required")
		return
	}
	expiresAt, err := parseExpiry(req.ExpiryTime)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.OTP.Store(r.Context(), phone, req.OTP, expiresAt); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventOTPStored, map[string]any{
		"phone":      audit.MaskPhone(phone),
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" || strings.TrimSpace(req.OTP) == "" {
		writeError(w, r, http.StatusBadRequest, "phoneNumber and otp are required")
		return
	}
	rec, err := a.deps.OTP.Verify(r.Context(), phone, req.OTP)
	result := otpResult(err)
	obs.OTPVerificationsTotal.WithLabelValues(result).Inc()
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventOTPRejected, map[string]any{
			"phone":  audit.MaskPhone(phone),
			"result": result,
		})
		if errors.Is(err, otp.ErrInvalidCode) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             "invalid otp",
				"attemptsRemaining": max(a.deps.OTPMaxAttempts-rec.Attempts, 0),
				"request_id":        RequestIDFromContext(r.Context()),
			})
			return
		}
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventOTPVerified, map[string]any{"phone": audit.MaskPhone(phone)})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "verified": true})
}

func otpResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, otp.ErrNotFound):
		return "not_found"
	case errors.Is(err, otp.ErrExpired):
		return "expired"
	case errors.Is(err, otp.ErrAttemptLimit):
		return "attempt_limit"
	case errors.Is(err, otp.ErrInvalidCode):
		return "invalid_code"
	default:
		return "error"
	}
}
