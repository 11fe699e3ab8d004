package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunshineplan/imgconv"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/classifier"
)

type fakeUploader struct {
	types []whatsmeow.MediaType
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.types = append(f.types, mediaType)
	if f.err != nil {
		return whatsmeow.UploadResponse{}, f.err
	}
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/x",
		DirectPath: "/v/x",
		FileLength: uint64(len(data)),
	}, nil
}

func testImage(t *testing.T, format imgconv.Format) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 144, 96))
	for x := 0; x < 144; x++ {
		for y := 0; y < 96; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imgconv.Write(&buf, img, &imgconv.FormatOption{Format: format}))
	return buf.Bytes()
}

func TestBuildMediaMessageByCategory(t *testing.T) {
	pngData := testImage(t, imgconv.PNG)
	blob := []byte{0x00, 0x01, 0x02, 0x03, 0x04}

	cases := []struct {
		name   string
		media  Media
		upload whatsmeow.MediaType
		check  func(t *testing.T, msg *waE2E.Message)
	}{
		{
			name:   "image",
			media:  Media{Data: pngData, Mime: "image/png", Category: classifier.CategoryImage, Caption: "look"},
			upload: whatsmeow.MediaImage,
			check: func(t *testing.T, msg *waE2E.Message) {
				require.NotNil(t, msg.GetImageMessage())
				assert.Equal(t, "look", msg.GetImageMessage().GetCaption())
				assert.Equal(t, "image/png", msg.GetImageMessage().GetMimetype())
				assert.NotEmpty(t, msg.GetImageMessage().GetJPEGThumbnail())
			},
		},
		{
			name:   "video",
			media:  Media{Data: blob, Mime: "video/mp4", Category: classifier.CategoryVideo, Caption: "clip"},
			upload: whatsmeow.MediaVideo,
			check: func(t *testing.T, msg *waE2E.Message) {
				require.NotNil(t, msg.GetVideoMessage())
				assert.Equal(t, "clip", msg.GetVideoMessage().GetCaption())
				assert.Equal(t, uint64(len(blob)), msg.GetVideoMessage().GetFileLength())
			},
		},
		{
			name:   "audio",
			media:  Media{Data: blob, Mime: "audio/mpeg", Category: classifier.CategoryAudio},
			upload: whatsmeow.MediaAudio,
			check: func(t *testing.T, msg *waE2E.Message) {
				require.NotNil(t, msg.GetAudioMessage())
				assert.False(t, msg.GetAudioMessage().GetPTT())
				assert.Nil(t, msg.GetAudioMessage().PTT)
				assert.Equal(t, "audio/mpeg", msg.GetAudioMessage().GetMimetype())
			},
		},
		{
			name:   "voice note",
			media:  Media{Data: blob, Mime: "audio/ogg", Category: classifier.CategoryAudio, PTT: true},
			upload: whatsmeow.MediaAudio,
			check: func(t *testing.T, msg *waE2E.Message) {
				require.NotNil(t, msg.GetAudioMessage())
				assert.True(t, msg.GetAudioMessage().GetPTT())
				assert.Equal(t, "audio/ogg; codecs=opus", msg.GetAudioMessage().GetMimetype())
			},
		},
		{
			name:   "sticker",
			media:  Media{Data: blob, Mime: "image/webp", Category: classifier.CategorySticker},
			upload: whatsmeow.MediaImage,
			check: func(t *testing.T, msg *waE2E.Message) {
				require.NotNil(t, msg.GetStickerMessage())
				assert.Equal(t, "/v/x", msg.GetStickerMessage().GetDirectPath())
			},
		},
		{
			name:   "document",
			media:  Media{Data: blob, Mime: "application/zip", Category: classifier.CategoryDocument, FileName: "a.zip", Caption: "files"},
			upload: whatsmeow.MediaDocument,
			check: func(t *testing.T, msg *waE2E.Message) {
				require.NotNil(t, msg.GetDocumentMessage())
				assert.Equal(t, "a.zip", msg.GetDocumentMessage().GetFileName())
				assert.Equal(t, "files", msg.GetDocumentMessage().GetCaption())
			},
		},
		{
			name:   "document name from content",
			media:  Media{Data: []byte("%PDF-1.7\n"), Category: classifier.CategoryUnknown, Mime: "application/pdf"},
			upload: whatsmeow.MediaDocument,
			check: func(t *testing.T, msg *waE2E.Message) {
				assert.Equal(t, "file.pdf", msg.GetDocumentMessage().GetFileName())
			},
		},
		{
			name:   "classified when unset",
			media:  Media{Data: pngData},
			upload: whatsmeow.MediaImage,
			check: func(t *testing.T, msg *waE2E.Message) {
				assert.Equal(t, "image/png", msg.GetImageMessage().GetMimetype())
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := &fakeUploader{}
			msg, err := BuildMediaMessage(context.Background(), u, tc.media)
			require.NoError(t, err)
			assert.Equal(t, []whatsmeow.MediaType{tc.upload}, u.types)
			tc.check(t, msg)
		})
	}
}

func TestBuildMediaMessageText(t *testing.T) {
	u := &fakeUploader{}
	msg, err := BuildMediaMessage(context.Background(), u, Media{Data: []byte("hello"), Category: classifier.CategoryText})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.GetConversation())
	assert.Empty(t, u.types)
}

func TestBuildMediaMessageErrors(t *testing.T) {
	_, err := BuildMediaMessage(context.Background(), &fakeUploader{}, Media{})
	assert.ErrorIs(t, err, ErrEmptyPayload)

	boom := errors.New("boom")
	_, err = BuildMediaMessage(context.Background(), &fakeUploader{err: boom},
		Media{Data: []byte{1, 2, 3}, Mime: "video/mp4", Category: classifier.CategoryVideo})
	assert.ErrorIs(t, err, boom)
}

func TestThumbnail(t *testing.T) {
	thumb := Thumbnail(testImage(t, imgconv.PNG))
	require.NotEmpty(t, thumb)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, thumbnailWidth, cfg.Width)

	assert.Nil(t, Thumbnail([]byte("not an image")))
}

func TestToPNGFromWebP(t *testing.T) {
	out, err := ToPNG(testImage(t, imgconv.WEBP))
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 144, cfg.Width)
	assert.Equal(t, 96, cfg.Height)

	_, err = ToPNG([]byte("garbage"))
	assert.Error(t, err)
}

func TestQRDataURL(t *testing.T) {
	url, err := QRDataURL("2@abc,def,ghi")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Width)
}
