package qr

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// CodePNG renders a pickup code as a QR PNG for the courier's phone
// screen. The code is public information; nothing is encrypted.
func CodePNG(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode QR for %q: %w", code, err)
	}
	return png, nil
}
