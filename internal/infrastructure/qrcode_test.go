package infrastructure

import (
	"bytes"
	"testing"
)

func TestPaymentQR(t *testing.T) {
	png, err := PaymentQR("https://example.com/pay?ref=42")
	if err != nil {
		t.Fatalf("PaymentQR returned error: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("expected PNG header, got %x", png[:8])
	}
	if _, err := PaymentQR(""); err == nil {
		t.Fatal("expected error for empty link")
	}
}
