package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/y0f/lexotp/internal/codes"
	"github.com/y0f/lexotp/internal/config"
	"github.com/y0f/lexotp/internal/metrics"
	"github.com/y0f/lexotp/internal/otpauth"
	"github.com/y0f/lexotp/internal/totp"
)

// RFC 6238 test keys: "12345678901234567890" and its 32-byte extension.
const (
	rfcSecret       = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	rfcSecretSHA256 = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQGEZA"
)

const googleExport = "otpauth-migration://offline?data=CjEKCkhlbGxvId6tvu8SGEV4YW1wbGU6YWxpY2VAZ29vZ2xlLmNvbRoHRXhhbXBsZSABKAEwAhABGAEgACjr4JP7Bw%3D%3D"

func testHandler(t *testing.T, opts ...totp.Option) *Handler {
	t.Helper()
	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]totp.Option{totp.WithClock(func() time.Time { return time.Unix(59, 0) })}, opts...)
	return New(cfg, totp.New(opts...), metrics.New(), logger, "test")
}

func call(t *testing.T, fn http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
		r = http.NoBody
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest("POST", "/", r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fn(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestCode(t *testing.T) {
	h := testHandler(t)
	at := int64(1111111109)

	tests := []struct {
		name      string
		req       codeRequest
		code      string
		remaining int
	}{
		{"clock defaults", codeRequest{Secret: rfcSecret}, "287082", 1},
		{"eight digits", codeRequest{Secret: rfcSecret, Digits: 8}, "94287082", 1},
		{"explicit time", codeRequest{Secret: rfcSecret, Digits: 8, At: &at}, "07081804", 1},
		{"sha256", codeRequest{Secret: rfcSecretSHA256, Digits: 8, Algorithm: "sha256"}, "46119246", 1},
		{"lowercase spaced secret", codeRequest{Secret: "gezd gnbv gy3t qojq gezd gnbv gy3t qojq", Digits: 8}, "94287082", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, h.Code, tt.req)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			slot := decode[codes.Slot](t, w)
			if slot.Code != tt.code || !slot.Available {
				t.Fatalf("got %+v, want code %s", slot, tt.code)
			}
			if slot.Remaining != tt.remaining {
				t.Fatalf("expected remaining %d, got %d", tt.remaining, slot.Remaining)
			}
		})
	}
}

func TestCode_BadRequest(t *testing.T) {
	h := testHandler(t)

	tests := []struct {
		name   string
		body   any
		errSub string
	}{
		{"empty body", nil, "empty"},
		{"invalid json", "{", "invalid JSON"},
		{"unknown field", `{"secret":"` + rfcSecret + `","foo":1}`, "invalid JSON"},
		{"missing secret", codeRequest{}, "secret is required"},
		{"seven digits", codeRequest{Secret: rfcSecret, Digits: 7}, "digits"},
		{"negative period", codeRequest{Secret: rfcSecret, Period: -30}, "period"},
		{"unknown algorithm", codeRequest{Secret: rfcSecret, Algorithm: "SHA3"}, "algorithm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, h.Code, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			body := decode[map[string]string](t, w)
			if !strings.Contains(body["error"], tt.errSub) {
				t.Fatalf("expected error containing %q, got %q", tt.errSub, body["error"])
			}
		})
	}
}

func TestCode_Unavailable(t *testing.T) {
	failing := totp.MACFunc(func(totp.Algorithm, []byte, []byte) ([]byte, error) {
		return nil, errors.New("hsm offline")
	})
	h := testHandler(t, totp.WithMAC(failing))

	w := call(t, h.Code, codeRequest{Secret: rfcSecret, Digits: 8})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	slot := decode[codes.Slot](t, w)
	if slot.Code != "--------" || slot.Available {
		t.Fatalf("expected unavailable sentinel, got %+v", slot)
	}
}

func TestVerify(t *testing.T) {
	h := testHandler(t)
	skew0, skew1, skew11 := 0, 1, 11
	later := int64(89)

	tests := []struct {
		name   string
		req    verifyRequest
		status int
		valid  bool
	}{
		{"current code", verifyRequest{Secret: rfcSecret, Code: "287082"}, http.StatusOK, true},
		{"wrong code", verifyRequest{Secret: rfcSecret, Code: "000000"}, http.StatusOK, false},
		{"previous step within skew", verifyRequest{Secret: rfcSecret, Code: "287082", Skew: &skew1, At: &later}, http.StatusOK, true},
		{"previous step without skew", verifyRequest{Secret: rfcSecret, Code: "287082", Skew: &skew0, At: &later}, http.StatusOK, false},
		{"eight digits", verifyRequest{Secret: rfcSecret, Code: "94287082", Digits: 8}, http.StatusOK, true},
		{"non numeric", verifyRequest{Secret: rfcSecret, Code: "28a082"}, http.StatusBadRequest, false},
		{"wrong length", verifyRequest{Secret: rfcSecret, Code: "2870"}, http.StatusBadRequest, false},
		{"skew too wide", verifyRequest{Secret: rfcSecret, Code: "287082", Skew: &skew11}, http.StatusBadRequest, false},
		{"missing secret", verifyRequest{Code: "287082"}, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, h.Verify, tt.req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			if got := decode[map[string]bool](t, w)["valid"]; got != tt.valid {
				t.Fatalf("expected valid=%v, got %v", tt.valid, got)
			}
		})
	}
}

func TestValidateSecret(t *testing.T) {
	h := testHandler(t)

	tests := []struct {
		name   string
		secret string
		valid  bool
	}{
		{"rfc secret", rfcSecret, true},
		{"spaced lowercase", "jbsw y3dp ehpk 3pxp", true},
		{"too short", "JBSWY3DP", false},
		{"outside alphabet", "JBSWY3DPEHPK3PX1", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, h.ValidateSecret, secretRequest{Secret: tt.secret})
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			if got := decode[map[string]bool](t, w)["valid"]; got != tt.valid {
				t.Fatalf("expected valid=%v, got %v", tt.valid, got)
			}
		})
	}

	t.Run("oversized", func(t *testing.T) {
		w := call(t, h.ValidateSecret, secretRequest{Secret: strings.Repeat("A", 2000)})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestProvision(t *testing.T) {
	h := testHandler(t)

	w := call(t, h.Provision, provisionRequest{Account: "alice@lawfirm.example", Digits: 8})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[provisionResponse](t, w)

	if !totp.ValidateSecret(resp.Secret) {
		t.Fatalf("provisioned secret %q does not validate", resp.Secret)
	}
	if len(resp.Secret) != 32 {
		t.Fatalf("expected 32 base32 characters for 20 bytes, got %d", len(resp.Secret))
	}

	acc := otpauth.ParseKeyURI(resp.URI)
	if acc == nil {
		t.Fatalf("uri %q does not parse", resp.URI)
	}
	if acc.Issuer != "lexotp" || acc.Name != "alice@lawfirm.example" {
		t.Fatalf("unexpected labels %+v", acc)
	}
	if acc.Secret != resp.Secret || acc.Digits != 8 {
		t.Fatalf("uri does not carry the secret parameters: %+v", acc)
	}

	png, err := base64.StdEncoding.DecodeString(resp.QRPNG)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("qr_png is not a PNG")
	}
}

func TestProvision_BadRequest(t *testing.T) {
	h := testHandler(t)

	tests := []struct {
		name string
		req  provisionRequest
	}{
		{"missing account", provisionRequest{}},
		{"blank account", provisionRequest{Account: "   "}},
		{"colon in account", provisionRequest{Account: "a:b"}},
		{"colon in issuer", provisionRequest{Account: "alice", Issuer: "Lex:Firm"}},
		{"bad digits", provisionRequest{Account: "alice", Digits: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := call(t, h.Provision, tt.req); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestImport_MigrationExport(t *testing.T) {
	h := testHandler(t)

	w := call(t, h.Import, importRequest{URL: googleExport})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[importResponse](t, w)
	if resp.Count != 1 || len(resp.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %+v", resp)
	}
	acc := resp.Accounts[0]
	if acc.Name != "Example:alice@google.com" || acc.Issuer != "Example" || acc.Secret != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("unexpected account %+v", acc)
	}
	if resp.Batch == nil || resp.Batch.BatchID != 2137321579 {
		t.Fatalf("unexpected batch %+v", resp.Batch)
	}
}

func TestImport_KeyURI(t *testing.T) {
	h := testHandler(t)

	uri := "otpauth://totp/Acme:%3Cb%3Ealice%3C%2Fb%3E?secret=JBSWY3DPEHPK3PXP&digits=8&algorithm=SHA256"
	w := call(t, h.Import, importRequest{URL: uri})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[importResponse](t, w)
	if resp.Count != 1 || resp.Batch != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	acc := resp.Accounts[0]
	if acc.Name != "alice" || acc.Issuer != "Acme" {
		t.Fatalf("labels not sanitized: %+v", acc)
	}
	if acc.Digits != 8 || acc.Algorithm != otpauth.AlgorithmSHA256 {
		t.Fatalf("parameters not kept: %+v", acc)
	}
	back := otpauth.ParseKeyURI(acc.URI)
	if back == nil || *back != acc.Account {
		t.Fatalf("uri %q does not round-trip to %+v", acc.URI, acc.Account)
	}
}

func TestImport_BadRequest(t *testing.T) {
	h := testHandler(t)

	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"http link", "https://example.com"},
		{"unknown otpauth kind", "otpauth://yotp/alice?secret=JBSWY3DPEHPK3PXP"},
		{"key uri without secret", "otpauth://totp/alice?issuer=Acme"},
		{"migration without data", "otpauth-migration://offline?foo=bar"},
		{"migration with broken base64", "otpauth-migration://offline?data=%%%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := call(t, h.Import, importRequest{URL: tt.url}); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	t.Run("too long", func(t *testing.T) {
		h.cfg.Import.MaxURLLength = 64
		defer func() { h.cfg.Import.MaxURLLength = config.Defaults().Import.MaxURLLength }()
		long := "otpauth://totp/alice?secret=" + strings.Repeat("A", 64)
		if w := call(t, h.Import, importRequest{URL: long}); w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestExport_RoundTrip(t *testing.T) {
	h := testHandler(t)
	h.cfg.Import.ExportBatchSize = 5

	var accounts []otpauth.Account
	for i := range 12 {
		accounts = append(accounts, otpauth.Account{
			Name:   fmt.Sprintf("user-%d", i),
			Issuer: "Lex Firm",
			Secret: strings.ToLower(rfcSecret),
		})
	}

	w := call(t, h.Export, accountsRequest{Accounts: accounts})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[exportResponse](t, w)
	if resp.Count != 12 || len(resp.Parts) != 3 {
		t.Fatalf("expected 12 accounts in 3 parts, got %d in %d", resp.Count, len(resp.Parts))
	}

	var got []otpauth.Account
	var batchID int32
	for i, part := range resp.Parts {
		if part.QRPNG == "" {
			t.Fatalf("part %d has no qr code", i)
		}
		iw := call(t, h.Import, importRequest{URL: part.URL})
		if iw.Code != http.StatusOK {
			t.Fatalf("part %d: expected 200, got %d: %s", i, iw.Code, iw.Body.String())
		}
		ir := decode[importResponse](t, iw)
		if ir.Batch.BatchIndex != i || ir.Batch.BatchSize != 3 {
			t.Fatalf("part %d: unexpected batch %+v", i, ir.Batch)
		}
		if i == 0 {
			batchID = ir.Batch.BatchID
		} else if ir.Batch.BatchID != batchID {
			t.Fatalf("part %d: batch id %d differs from %d", i, ir.Batch.BatchID, batchID)
		}
		for _, a := range ir.Accounts {
			got = append(got, a.Account)
		}
	}

	if len(got) != len(accounts) {
		t.Fatalf("expected %d accounts back, got %d", len(accounts), len(got))
	}
	for i, acc := range got {
		if acc.Name != accounts[i].Name || acc.Issuer != "Lex Firm" || acc.Secret != rfcSecret {
			t.Fatalf("account %d: got %+v", i, acc)
		}
		if acc.Digits != 6 || acc.Period != 30 || acc.Type != otpauth.TypeTOTP {
			t.Fatalf("account %d: defaults not applied: %+v", i, acc)
		}
	}
}

func TestExport_BadRequest(t *testing.T) {
	h := testHandler(t)

	tests := []struct {
		name     string
		accounts []otpauth.Account
	}{
		{"no accounts", nil},
		{"missing name", []otpauth.Account{{Secret: rfcSecret}}},
		{"non base32 secret", []otpauth.Account{{Name: "alice", Secret: "not base32!"}}},
		{"bad type", []otpauth.Account{{Name: "alice", Secret: rfcSecret, Type: "PUSH"}}},
		{"period the format cannot carry", []otpauth.Account{{Name: "alice", Secret: "JBSWY3DPEHPK3PXP", Period: 60}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := call(t, h.Export, accountsRequest{Accounts: tt.accounts}); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestSlots(t *testing.T) {
	h := testHandler(t)

	req := accountsRequest{Accounts: []otpauth.Account{
		{Name: "alice", Issuer: "Acme", Secret: rfcSecret, Digits: 8},
		{Name: "counter", Secret: rfcSecret, Type: otpauth.TypeHOTP, Counter: 0},
		{Name: "bob", Secret: rfcSecret},
	}}
	w := call(t, h.Slots, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[slotsResponse](t, w)
	if resp.At != 59 {
		t.Fatalf("expected at=59, got %d", resp.At)
	}

	want := []struct {
		name      string
		code      string
		remaining int
	}{
		{"alice", "94287082", 1},
		{"counter", "755224", 0},
		{"bob", "287082", 1},
	}
	if len(resp.Slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(resp.Slots))
	}
	for i, w := range want {
		s := resp.Slots[i]
		if s.Name != w.name || s.Code != w.code || s.Remaining != w.remaining {
			t.Fatalf("slot %d: got %+v, want %+v", i, s, w)
		}
	}
}
