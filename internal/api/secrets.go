package api

import (
	"net/http"
	"strings"

	"github.com/y0f/lexotp/internal/base32"
	"github.com/y0f/lexotp/internal/totp"
	"github.com/y0f/lexotp/internal/validate"
)

type provisionRequest struct {
	Issuer    string `json:"issuer,omitempty"`
	Account   string `json:"account"`
	Digits    int    `json:"digits,omitempty"`
	Period    int    `json:"period,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

type provisionResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRPNG  string `json:"qr_png"`
}

// Provision creates a fresh secret for enrollment. The secret is returned
// once and never kept.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Account = strings.TrimSpace(req.Account)
	req.Issuer = strings.TrimSpace(req.Issuer)
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	if err := validate.ValidateLabel("account", req.Account); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Issuer == "" {
		req.Issuer = h.cfg.TOTP.Issuer
	}
	if err := validate.ValidateLabel("issuer", req.Issuer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.ValidateParams(req.Digits, req.Period, req.Algorithm); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.provision(req.Issuer, req.Account, h.params(req.Digits, req.Period, req.Algorithm))
	if err != nil {
		h.logger.Error("provision secret", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to provision secret")
		return
	}
	h.metrics.ObserveProvision()
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) provision(issuer, account string, p totp.Params) (*provisionResponse, error) {
	secret, err := totp.GenerateSecret(h.cfg.TOTP.SecretSize)
	if err != nil {
		return nil, err
	}
	uri := totp.FormatKeyURI(issuer, account, secret, p)
	png, err := qrPNG(uri)
	if err != nil {
		return nil, err
	}
	return &provisionResponse{
		Secret: base32.Encode(secret),
		URI:    uri,
		QRPNG:  png,
	}, nil
}
