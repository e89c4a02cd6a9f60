package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/y0f/lexotp/internal/base32"
	"github.com/y0f/lexotp/internal/codes"
	"github.com/y0f/lexotp/internal/otpauth"
	"github.com/y0f/lexotp/internal/validate"
)

type importRequest struct {
	URL string `json:"url"`
}

type batchInfo struct {
	Version    int   `json:"version"`
	BatchSize  int   `json:"batch_size"`
	BatchIndex int   `json:"batch_index"`
	BatchID    int32 `json:"batch_id"`
}

// importedAccount carries the account's otpauth:// link so a client can
// hand it to another authenticator.
type importedAccount struct {
	otpauth.Account
	URI string `json:"uri"`
}

type importResponse struct {
	Accounts []importedAccount `json:"accounts"`
	Count    int               `json:"count"`
	Batch    *batchInfo        `json:"batch,omitempty"`
}

var errUnrecognizedURL = errors.New("url is neither an otpauth-migration:// export nor an otpauth:// key uri")

// Import decodes a migration export or a single key URI. Labels come from
// an untrusted QR payload and are sanitized before they are returned.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.ValidateImportURL(req.URL, h.cfg.Import.MaxURLLength); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.importURL(req.URL)
	if err != nil {
		h.logger.Debug("import rejected", "error", err, "request_id", requestID(r))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) importURL(raw string) (resp *importResponse, err error) {
	format := "keyuri"
	if otpauth.IsMigrationURL(raw) {
		format = "migration"
	}
	defer func() {
		count := 0
		if resp != nil {
			count = resp.Count
		}
		h.metrics.ObserveImport(format, count, err)
	}()

	resp = &importResponse{Accounts: []importedAccount{}}
	if format == "migration" {
		b, err := h.decoder.DecodeMigrationBatch(raw)
		if err != nil {
			return nil, err
		}
		for _, acc := range b.Accounts {
			resp.Accounts = append(resp.Accounts, imported(acc))
		}
		resp.Batch = &batchInfo{
			Version:    b.Version,
			BatchSize:  b.BatchSize,
			BatchIndex: b.BatchIndex,
			BatchID:    b.BatchID,
		}
	} else {
		acc := otpauth.ParseKeyURI(raw)
		if acc == nil {
			return nil, errUnrecognizedURL
		}
		resp.Accounts = append(resp.Accounts, imported(*acc))
	}

	resp.Count = len(resp.Accounts)
	return resp, nil
}

func imported(acc otpauth.Account) importedAccount {
	acc = validate.SanitizeAccount(acc)
	return importedAccount{Account: acc, URI: acc.KeyURI()}
}

type accountsRequest struct {
	Accounts []otpauth.Account `json:"accounts"`
	At       *int64            `json:"at,omitempty"`
}

type exportPart struct {
	URL   string `json:"url"`
	QRPNG string `json:"qr_png"`
}

type exportResponse struct {
	Parts []exportPart `json:"parts"`
	Count int          `json:"count"`
}

// Export re-encodes accounts as migration links, split into QR-sized
// parts that share one batch id.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req accountsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.ValidateAccounts(req.Accounts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	accounts := normalizeAccounts(req.Accounts)
	batchID := int32(uuid.New().ID())
	batches := otpauth.SplitBatches(accounts, h.cfg.Import.ExportBatchSize, batchID)

	resp := exportResponse{Parts: make([]exportPart, 0, len(batches)), Count: len(accounts)}
	for _, b := range batches {
		link, err := otpauth.EncodeMigrationURL(b)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		png, err := qrPNG(link)
		if err != nil {
			h.logger.Error("export qr", "error", err, "batch_index", b.BatchIndex)
			writeError(w, http.StatusInternalServerError, "failed to render qr code")
			return
		}
		resp.Parts = append(resp.Parts, exportPart{URL: link, QRPNG: png})
	}
	h.metrics.ObserveExport(len(resp.Parts))
	writeJSON(w, http.StatusOK, resp)
}

type slotsResponse struct {
	Slots []codes.Slot `json:"slots"`
	At    int64        `json:"at"`
}

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	var req accountsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.ValidateAccounts(req.Accounts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := h.at(req.At)
	slots := h.codes.Slots(normalizeAccounts(req.Accounts), t)
	for _, s := range slots {
		h.metrics.ObserveCode("slots", s.Available)
	}
	writeJSON(w, http.StatusOK, slotsResponse{Slots: slots, At: t.Unix()})
}

// normalizeAccounts fills defaults and canonicalizes secrets of
// client-supplied accounts.
func normalizeAccounts(in []otpauth.Account) []otpauth.Account {
	out := make([]otpauth.Account, len(in))
	for i, acc := range in {
		acc.Secret = strings.TrimRight(base32.Normalize(acc.Secret), "=")
		acc.Algorithm = otpauth.ParseAlgorithmName(string(acc.Algorithm))
		if acc.Digits == 0 {
			acc.Digits = otpauth.DefaultDigits
		}
		if acc.Period == 0 {
			acc.Period = otpauth.DefaultPeriod
		}
		if acc.Type == "" {
			acc.Type = otpauth.TypeTOTP
		}
		out[i] = acc
	}
	return out
}
