package wa

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the edge length in pixels of rendered pairing codes.
const QRSize = 256

// RenderQR encodes a pairing code as a PNG data URL suitable for an <img> tag.
func RenderQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, QRSize)
	if err != nil {
		return "", fmt.Errorf("encode QR: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// RenderQRTerminal renders a pairing code as block characters for a terminal.
func RenderQRTerminal(code string) (string, error) {
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode QR: %w", err)
	}
	return q.ToSmallString(false), nil
}
