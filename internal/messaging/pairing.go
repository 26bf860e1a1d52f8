package messaging

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const pairingImageSize = 256

// PairingPNG renders a pairing code as a scannable QR image.
func PairingPNG(code string) ([]byte, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, pairingImageSize)
	if err != nil {
		return nil, fmt.Errorf("encode pairing qr: %w", err)
	}
	return png, nil
}

// PairingText renders a pairing code as block characters for a terminal.
func PairingText(code string) (string, error) {
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode pairing qr: %w", err)
	}
	return q.ToSmallString(false), nil
}
