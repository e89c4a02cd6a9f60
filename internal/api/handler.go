package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/y0f/lexotp/internal/codes"
	"github.com/y0f/lexotp/internal/config"
	"github.com/y0f/lexotp/internal/httputil"
	"github.com/y0f/lexotp/internal/metrics"
	"github.com/y0f/lexotp/internal/otpauth"
	"github.com/y0f/lexotp/internal/totp"
)

type Handler struct {
	cfg       *config.Config
	gen       *totp.Generator
	codes     *codes.Service
	decoder   *otpauth.Decoder
	metrics   *metrics.Registry
	logger    *slog.Logger
	version   string
	startTime time.Time
}

// New builds the API handler. m may be nil when metrics are disabled.
func New(cfg *config.Config, gen *totp.Generator, m *metrics.Registry, logger *slog.Logger, version string) *Handler {
	if gen == nil {
		gen = totp.New()
	}
	return &Handler{
		cfg:       cfg,
		gen:       gen,
		codes:     codes.NewService(gen, logger),
		decoder:   otpauth.NewDecoder(logger, otpauth.WithMaxAccounts(cfg.Import.MaxAccounts)),
		metrics:   m,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// WriteError is the JSON error writer shared with the middleware chain.
func WriteError(w http.ResponseWriter, status int, msg string) {
	writeError(w, status, msg)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// at resolves an optional unix timestamp against the generator clock.
func (h *Handler) at(unix *int64) time.Time {
	if unix != nil {
		return time.Unix(*unix, 0)
	}
	return h.gen.Now()
}

// params overlays request parameters on the configured defaults.
func (h *Handler) params(digits, period int, algorithm string) totp.Params {
	p := h.cfg.Params()
	if digits != 0 {
		p.Digits = digits
	}
	if period != 0 {
		p.Period = period
	}
	if algorithm != "" {
		if alg, err := totp.ParseAlgorithm(algorithm); err == nil {
			p.Algorithm = alg
		}
	}
	return p
}

func requestID(r *http.Request) string {
	return httputil.GetRequestID(r.Context())
}
