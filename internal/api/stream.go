package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/y0f/lexotp/internal/otpauth"
)

const (
	streamWriteWait   = 10 * time.Second
	streamRequestWait = 10 * time.Second
	streamReadLimit   = 4096

	// websocket close reasons are limited to 123 bytes
	maxCloseReason = 120
)

type streamRequest struct {
	Secret    string `json:"secret"`
	Digits    int    `json:"digits,omitempty"`
	Period    int    `json:"period,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

// Stream upgrades to a websocket, reads one code request and then pushes
// the current slot every stream tick until the client goes away or the
// stream's maximum duration elapses.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	// The server-wide deadlines would cut a long-lived stream short.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.cfg.Server.CORSOrigins),
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err, "request_id", requestID(r))
		return
	}
	defer conn.CloseNow()
	defer h.metrics.StreamOpened()()
	conn.SetReadLimit(streamReadLimit)

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Stream.MaxDuration)
	defer cancel()

	acc, err := h.readStreamRequest(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, closeReason(err.Error()))
		return
	}

	ctx = conn.CloseRead(ctx)
	ticker := time.NewTicker(h.cfg.Stream.Tick)
	defer ticker.Stop()

	sent := 0
	for {
		if err := h.writeSlot(ctx, conn, acc); err != nil {
			h.logger.Debug("stream write failed", "error", err, "sent", sent, "request_id", requestID(r))
			return
		}
		sent++

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				conn.Close(websocket.StatusNormalClosure, "max duration reached")
			}
			h.logger.Debug("stream closed", "sent", sent, "request_id", requestID(r))
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) readStreamRequest(ctx context.Context, conn *websocket.Conn) (otpauth.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, streamRequestWait)
	defer cancel()

	var req streamRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		return otpauth.Account{}, errors.New("invalid stream request")
	}
	cr := codeRequest{Secret: req.Secret, Digits: req.Digits, Period: req.Period, Algorithm: req.Algorithm}
	if err := cr.validate(); err != nil {
		return otpauth.Account{}, err
	}
	return h.account(req.Secret, req.Digits, req.Period, req.Algorithm), nil
}

func (h *Handler) writeSlot(ctx context.Context, conn *websocket.Conn, acc otpauth.Account) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteWait)
	defer cancel()
	slot := h.codes.Slot(acc, h.gen.Now())
	h.metrics.ObserveCode("stream", slot.Available)
	return wsjson.Write(ctx, conn, slot)
}

// originPatterns turns CORS origins into the host patterns the websocket
// handshake matches against. Same-origin requests are always accepted.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, strings.TrimSpace(o))
	}
	return out
}

func closeReason(s string) string {
	if len(s) > maxCloseReason {
		return s[:maxCloseReason]
	}
	return s
}
