package api

import (
	"net/http"

	"github.com/y0f/lexotp/internal/otpauth"
	"github.com/y0f/lexotp/internal/totp"
	"github.com/y0f/lexotp/internal/validate"
)

type codeRequest struct {
	Secret    string `json:"secret"`
	Digits    int    `json:"digits,omitempty"`
	Period    int    `json:"period,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	At        *int64 `json:"at,omitempty"`
}

func (req *codeRequest) validate() error {
	if err := validate.ValidateSecretInput(req.Secret); err != nil {
		return err
	}
	return validate.ValidateParams(req.Digits, req.Period, req.Algorithm)
}

// account describes the request as a TOTP account so it can go through
// the same slot path as imported accounts.
func (h *Handler) account(secret string, digits, period int, algorithm string) otpauth.Account {
	p := h.params(digits, period, algorithm)
	return otpauth.Account{
		Secret:    secret,
		Algorithm: otpauth.ParseAlgorithmName(string(p.Algorithm)),
		Digits:    p.Digits,
		Type:      otpauth.TypeTOTP,
		Period:    p.Period,
	}
}

// Code returns the current code for a secret. An unusable secret is not a
// client error: the response carries the sentinel and available=false.
func (h *Handler) Code(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acc := h.account(req.Secret, req.Digits, req.Period, req.Algorithm)
	slot := h.codes.Slot(acc, h.at(req.At))
	h.metrics.ObserveCode("code", slot.Available)
	writeJSON(w, http.StatusOK, slot)
}

type verifyRequest struct {
	Secret    string `json:"secret"`
	Code      string `json:"code"`
	Digits    int    `json:"digits,omitempty"`
	Period    int    `json:"period,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	Skew      *int   `json:"skew,omitempty"`
	At        *int64 `json:"at,omitempty"`
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.ValidateSecretInput(req.Secret); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.ValidateParams(req.Digits, req.Period, req.Algorithm); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := h.params(req.Digits, req.Period, req.Algorithm)
	if err := validate.ValidateCode(req.Code, p.Digits); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	skew := h.cfg.TOTP.Skew
	if req.Skew != nil {
		if err := validate.ValidateSkew(*req.Skew); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		skew = *req.Skew
	}

	valid := h.gen.Verify(req.Secret, req.Code, p, skew, h.at(req.At))
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type secretRequest struct {
	Secret string `json:"secret"`
}

// ValidateSecret is a format check only; it never decodes the secret.
func (h *Handler) ValidateSecret(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Secret) > validate.MaxSecretLength {
		writeError(w, http.StatusBadRequest, "secret is too long")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": totp.ValidateSecret(req.Secret)})
}
