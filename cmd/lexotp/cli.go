package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/y0f/lexotp/internal/base32"
	"github.com/y0f/lexotp/internal/codes"
	"github.com/y0f/lexotp/internal/config"
	"github.com/y0f/lexotp/internal/otpauth"
	"github.com/y0f/lexotp/internal/totp"
	"github.com/y0f/lexotp/internal/validate"
)

type cliOptions struct {
	Digits    int
	Period    int
	Algorithm string
	Issuer    string
	QR        bool
}

var (
	errCodeUnavailable = errors.New("code unavailable")
	errInvalidSecret   = errors.New("secret is not valid base32")
)

// params overlays the command-line parameters on the configured defaults.
func (o cliOptions) params(cfg *config.Config) (totp.Params, error) {
	if err := validate.ValidateParams(o.Digits, o.Period, o.Algorithm); err != nil {
		return totp.Params{}, err
	}
	p := cfg.Params()
	if o.Digits != 0 {
		p.Digits = o.Digits
	}
	if o.Period != 0 {
		p.Period = o.Period
	}
	if o.Algorithm != "" {
		p.Algorithm, _ = totp.ParseAlgorithm(o.Algorithm)
	}
	return p, nil
}

func (o cliOptions) account(cfg *config.Config, secret string) (otpauth.Account, error) {
	if err := validate.ValidateSecretInput(secret); err != nil {
		return otpauth.Account{}, err
	}
	p, err := o.params(cfg)
	if err != nil {
		return otpauth.Account{}, err
	}
	return otpauth.Account{
		Secret:    secret,
		Algorithm: otpauth.ParseAlgorithmName(string(p.Algorithm)),
		Digits:    p.Digits,
		Type:      otpauth.TypeTOTP,
		Period:    p.Period,
	}, nil
}

func runCode(w io.Writer, cfg *config.Config, gen *totp.Generator, secret string, opts cliOptions) error {
	acc, err := opts.account(cfg, secret)
	if err != nil {
		return err
	}
	slot := codes.NewService(gen, slog.New(slog.DiscardHandler)).Slot(acc, gen.Now())
	fmt.Fprintf(w, "%s  (%ds left)\n", slot.Code, slot.Remaining)
	if !slot.Available {
		return errCodeUnavailable
	}
	return nil
}

// runWatch redraws the code on one line every second until ctx ends. An
// unavailable code shows as the sentinel and is retried on the next tick.
func runWatch(ctx context.Context, w io.Writer, cfg *config.Config, gen *totp.Generator, secret string, opts cliOptions) error {
	acc, err := opts.account(cfg, secret)
	if err != nil {
		return err
	}
	svc := codes.NewService(gen, slog.New(slog.DiscardHandler))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		slot := svc.Slot(acc, gen.Now())
		fmt.Fprintf(w, "\r%s  %2ds", slot.Code, slot.Remaining)
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return nil
		case <-ticker.C:
		}
	}
}

func runValidate(w io.Writer, secret string) error {
	if totp.ValidateSecret(secret) {
		fmt.Fprintln(w, "valid")
		return nil
	}
	fmt.Fprintln(w, "invalid")
	return errInvalidSecret
}

func runImport(w io.Writer, cfg *config.Config, logger *slog.Logger, raw string) error {
	if err := validate.ValidateImportURL(raw, cfg.Import.MaxURLLength); err != nil {
		return err
	}

	var accounts []otpauth.Account
	if otpauth.IsMigrationURL(raw) {
		dec := otpauth.NewDecoder(logger, otpauth.WithMaxAccounts(cfg.Import.MaxAccounts))
		decoded, err := dec.DecodeMigrationURL(raw)
		if err != nil {
			return err
		}
		accounts = decoded
	} else {
		acc := otpauth.ParseKeyURI(raw)
		if acc == nil {
			return fmt.Errorf("not an otpauth:// or otpauth-migration:// link")
		}
		accounts = []otpauth.Account{*acc}
	}

	out := make([]otpauth.Account, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, validate.SanitizeAccount(acc))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runProvision(w io.Writer, cfg *config.Config, account string, opts cliOptions) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return fmt.Errorf("account is required")
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		issuer = cfg.TOTP.Issuer
	}
	if err := validate.ValidateLabel("account", account); err != nil {
		return err
	}
	if err := validate.ValidateLabel("issuer", issuer); err != nil {
		return err
	}
	p, err := opts.params(cfg)
	if err != nil {
		return err
	}

	secret, err := totp.GenerateSecret(cfg.TOTP.SecretSize)
	if err != nil {
		return err
	}
	uri := totp.FormatKeyURI(issuer, account, secret, p)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Account : %s\n", account)
	fmt.Fprintf(w, "  Secret  : %s\n", base32.Encode(secret))
	fmt.Fprintf(w, "  URI     : %s\n", uri)
	fmt.Fprintln(w)
	if opts.QR {
		if err := printQR(w, uri); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, "  Scan the QR code or enter the secret in your authenticator app.")
	return nil
}

// runExport packs key URIs into migration links, one per QR-sized batch.
func runExport(w io.Writer, cfg *config.Config, uris []string, opts cliOptions) error {
	if len(uris) == 0 {
		return fmt.Errorf("usage: lexotp -export OTPAUTH_URI...")
	}
	accounts := make([]otpauth.Account, 0, len(uris))
	for i, raw := range uris {
		acc := otpauth.ParseKeyURI(raw)
		if acc == nil {
			return fmt.Errorf("argument %d is not an otpauth:// key uri", i+1)
		}
		accounts = append(accounts, *acc)
	}
	if err := validate.ValidateAccounts(accounts); err != nil {
		return err
	}

	batches := otpauth.SplitBatches(accounts, cfg.Import.ExportBatchSize, int32(uuid.New().ID()))
	for _, b := range batches {
		link, err := otpauth.EncodeMigrationURL(b)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "# part %d of %d (%d accounts)\n%s\n", b.BatchIndex+1, b.BatchSize, len(b.Accounts), link)
		if opts.QR {
			if err := printQR(w, link); err != nil {
				return err
			}
		}
	}
	return nil
}

func printQR(w io.Writer, content string) error {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render qr code: %w", err)
	}
	fmt.Fprintln(w, q.ToSmallString(false))
	return nil
}
