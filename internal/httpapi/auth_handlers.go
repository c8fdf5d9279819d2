package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vidyahub.org/internal/audit"
	"vidyahub.org/internal/authn"
	"vidyahub.org/internal/obs"
	"vidyahub.org/internal/otp"
	"vidyahub.org/internal/store"
)

type otpRequestBody struct {
	Phone string `json:"phone"`
}

type otpVerifyBody struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userDescriptor struct {
	ID             string `json:"id"`
	Role           string `json:"role"`
	OrganizationID string `json:"organizationId"`
	FullName       string `json:"name,omitempty"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  userDescriptor `json:"user"`
}

func validPhone(phone string) bool {
	if len(phone) < 10 || len(phone) > 15 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	var req otpRequestBody
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	phone := strings.TrimSpace(req.Phone)
	if !validPhone(phone) {
		respondError(w, http.StatusBadRequest, "a valid phone number is required")
		return
	}

	if _, err := a.users.FindActiveByPhone(r.Context(), phone); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no account found for this phone number")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	code, err := a.otp.Issue(r.Context(), phone)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not issue OTP")
		return
	}
	obs.OTPIssued()
	_ = audit.LogEvent(r.Context(), "auth.otp.issued", map[string]any{"phone": maskPhone(phone)})
	if a.sms != nil {
		_ = a.sms.Send(r.Context(), phone, fmt.Sprintf("Your vidyahub login code is %s", code))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":           "OTP sent",
		"expiresIn":         strconv.Itoa(int(otp.CodeTTL.Seconds())),
		"attemptsRemaining": otp.MaxAttempts,
	})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyBody
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	phone := strings.TrimSpace(req.Phone)
	if !validPhone(phone) || req.OTP == "" {
		respondError(w, http.StatusBadRequest, "phone and otp are required")
		return
	}

	if err := a.otp.Verify(r.Context(), phone, req.OTP); err != nil {
		var mismatch *otp.MismatchError
		switch {
		case errors.Is(err, otp.ErrNotFound):
			respondError(w, http.StatusBadRequest, "No OTP found. Please request a new one")
		case errors.As(err, &mismatch), errors.Is(err, otp.ErrExhausted):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	user, err := a.users.FindActiveByPhone(r.Context(), phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The code was right but no active account matches; keep the
			// answer generic.
			obs.AuthFailed()
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"method": "otp", "subject_id": user.ID})
	a.issueToken(w, user)
}

// handleLogin is the password path for faculty and admin accounts.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginBody
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := a.users.FindActiveByUsername(r.Context(), username)
	if err != nil || user.PasswordHash == "" ||
		(user.Role != store.RoleFaculty && user.Role != store.RoleAdmin) {
		obs.AuthFailed()
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := authn.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		obs.AuthFailed()
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"username": username})
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"method": "password", "subject_id": user.ID})
	a.issueToken(w, user)
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func (a *API) issueToken(w http.ResponseWriter, user *store.User) {
	signed, err := a.codec.Sign(user.ID, user.OrganizationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: signed,
		User: userDescriptor{
			ID:             user.ID,
			Role:           user.Role,
			OrganizationID: user.OrganizationID,
			FullName:       user.FullName,
		},
	})
}
