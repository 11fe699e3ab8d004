package whatsapp

import (
	"encoding/base64"
	"errors"
	"strings"

	qrCode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow/types"
)

var ErrInvalidJID = errors.New("WhatsApp JID is not Valid")

// ParseJID accepts a full JID or a bare phone number. Bare numbers, with or
// without a leading +, become user JIDs.
func ParseJID(id string) (types.JID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.EmptyJID, ErrInvalidJID
	}
	if !strings.Contains(id, "@") {
		number := strings.TrimPrefix(id, "+")
		for _, r := range number {
			if r < '0' || r > '9' {
				return types.EmptyJID, ErrInvalidJID
			}
		}
		return types.NewJID(number, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.EmptyJID, ErrInvalidJID
	}
	return jid, nil
}

// NormalizeJID returns the canonical string form of id, or id unchanged when
// it does not parse
func NormalizeJID(id string) string {
	jid, err := ParseJID(id)
	if err != nil {
		return strings.TrimSpace(id)
	}
	return jid.String()
}

// QRDataURL renders a pairing code as a PNG data URL
func QRDataURL(code string) (string, error) {
	png, err := qrCode.Encode(code, qrCode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
