package infrastructure

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// PaymentQR renders a payment link as a PNG so it can be sent as a photo
// or served over HTTP.
func PaymentQR(link string) ([]byte, error) {
	if link == "" {
		return nil, fmt.Errorf("empty payment link")
	}
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr: %w", err)
	}
	return png, nil
}
