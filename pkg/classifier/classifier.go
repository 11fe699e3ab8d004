// Package classifier detects what kind of content a byte buffer or a
// WhatsApp payload carries.
package classifier

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
)

type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryDocument Category = "document"
	CategorySticker  Category = "sticker"
	CategoryText     Category = "text"
	CategoryUnknown  Category = "unknown"
)

// IsMedia reports whether the category is an attachment
func (c Category) IsMedia() bool {
	switch c {
	case CategoryImage, CategoryVideo, CategoryAudio, CategoryDocument, CategorySticker:
		return true
	}
	return false
}

type Result struct {
	Mime      string   `json:"mime"`
	Category  Category `json:"category"`
	Extension string   `json:"extension"`
}

var (
	Fallback = Result{Mime: "application/octet-stream", Category: CategoryDocument, Extension: "bin"}
	Text     = Result{Mime: "text/plain", Category: CategoryText, Extension: "txt"}
	Sticker  = Result{Mime: "image/webp", Category: CategorySticker, Extension: "webp"}
)

const (
	maxSignatureLen = 8
	minSignatureLen = 2
	textSampleLen   = 1024
	maxFetchBytes   = 64 << 20
	fetchTimeout    = 30 * time.Second
)

// Classify inspects the leading bytes of data. It never fails: unreadable or
// empty input yields Fallback.
func Classify(data []byte) Result {
	if len(data) == 0 {
		return Fallback
	}
	if isWebPSticker(data) {
		return Sticker
	}
	if sig, ok := matchSignature(data); ok {
		return Result{Mime: sig.Mime, Category: sig.Category, Extension: sig.Extension}
	}
	if isText(data) {
		return Text
	}
	return Fallback
}

func isWebPSticker(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

func prefixHex(data []byte, n int) string {
	if n > len(data) {
		n = len(data)
	}
	return hex.EncodeToString(data[:n])
}

func matchSignature(data []byte) (Signature, bool) {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" {
		if sig, ok := riffForms[string(data[8:12])]; ok {
			return sig, true
		}
	}
	for n := maxSignatureLen; n >= minSignatureLen; n-- {
		if sig, ok := signatures[prefixHex(data, n)]; ok {
			return sig, true
		}
	}
	return Signature{}, false
}

func isText(data []byte) bool {
	if _, ok := textSignatures[prefixHex(data, 4)]; ok {
		return true
	}
	sample := data
	if len(sample) > textSampleLen {
		sample = sample[:textSampleLen]
	}
	control := 0
	for _, b := range sample {
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			control++
		}
	}
	return float64(control)/float64(len(sample)) < 0.1
}

// FromString classifies a literal string, or fetches it first when it is an
// http(s) URL
func FromString(ctx context.Context, client *http.Client, s string) Result {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return FromURL(ctx, client, s)
	}
	return Classify([]byte(s))
}

// FromReader drains r fully and classifies the result
func FromReader(r io.Reader) Result {
	if r == nil {
		return Fallback
	}
	data, err := io.ReadAll(r)
	if err != nil && len(data) == 0 {
		return Fallback
	}
	return Classify(data)
}

// FromURL downloads url and classifies the body. Fetch errors yield Fallback.
func FromURL(ctx context.Context, client *http.Client, url string) Result {
	data, err := Fetch(ctx, client, url)
	if err != nil {
		return Fallback
	}
	return Classify(data)
}

// Fetch downloads up to 64MB from url
func Fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxFetchBytes)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return "unexpected status " + http.StatusText(e.StatusCode) + " fetching " + e.URL
}

// OfMessage classifies a payload by its shape, looking through wrappers
func OfMessage(m *waE2E.Message) Category {
	switch message.KindOf(message.Unwrap(m)) {
	case message.KindImage:
		return CategoryImage
	case message.KindVideo:
		return CategoryVideo
	case message.KindAudio:
		return CategoryAudio
	case message.KindDocument:
		return CategoryDocument
	case message.KindSticker:
		return CategorySticker
	case message.KindText:
		return CategoryText
	case message.KindUnknown, message.KindProtocol, message.KindViewOnce:
		return CategoryUnknown
	}
	return CategoryUnknown
}
