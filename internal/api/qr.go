package api

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// qrPNG renders content as a base64 PNG. Medium recovery keeps migration
// links for a full batch within QR capacity.
func qrPNG(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
