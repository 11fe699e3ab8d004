package whatsapp

import (
	"bytes"
	"context"
	"errors"

	"github.com/sunshineplan/imgconv"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/classifier"
)

const (
	thumbnailWidth = 72
	voiceNoteMime  = "audio/ogg; codecs=opus"
)

// Media is an attachment to upload and send
type Media struct {
	Data     []byte
	Mime     string
	Category classifier.Category
	FileName string
	Caption  string
	// PTT sends audio as a voice note
	PTT bool
}

// SendMedia uploads media and sends it to one chat. Missing mime or category
// are filled in by the media classifier.
func (m *Manager) SendMedia(ctx context.Context, sessionID string, to string, media Media) (string, error) {
	t, err := m.transport(sessionID)
	if err != nil {
		return "", err
	}
	jid, err := ParseJID(to)
	if err != nil {
		return "", err
	}
	msg, err := BuildMediaMessage(ctx, t, media)
	if err != nil {
		return "", err
	}
	return t.SendMessage(ctx, jid, msg)
}

type uploader interface {
	Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

func BuildMediaMessage(ctx context.Context, u uploader, media Media) (*waE2E.Message, error) {
	if len(media.Data) == 0 {
		return nil, ErrEmptyPayload
	}
	if media.Mime == "" || media.Category == "" {
		detected := classifier.Classify(media.Data)
		if media.Mime == "" {
			media.Mime = detected.Mime
		}
		if media.Category == "" {
			media.Category = detected.Category
		}
	}

	var caption *string
	if media.Caption != "" {
		caption = proto.String(media.Caption)
	}

	switch media.Category {
	case classifier.CategoryImage:
		up, err := upload(ctx, u, media.Data, whatsmeow.MediaImage)
		if err != nil {
			return nil, err
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(media.Mime),
			Caption:       caption,
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
			JPEGThumbnail: Thumbnail(media.Data),
		}}, nil
	case classifier.CategoryVideo:
		up, err := upload(ctx, u, media.Data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, err
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(media.Mime),
			Caption:       caption,
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}, nil
	case classifier.CategoryAudio:
		up, err := upload(ctx, u, media.Data, whatsmeow.MediaAudio)
		if err != nil {
			return nil, err
		}
		audio := &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(media.Mime),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}
		if media.PTT {
			audio.PTT = proto.Bool(true)
			audio.Mimetype = proto.String(voiceNoteMime)
		}
		return &waE2E.Message{AudioMessage: audio}, nil
	case classifier.CategorySticker:
		up, err := upload(ctx, u, media.Data, whatsmeow.MediaImage)
		if err != nil {
			return nil, err
		}
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(media.Mime),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}, nil
	case classifier.CategoryText:
		return &waE2E.Message{Conversation: proto.String(string(media.Data))}, nil
	case classifier.CategoryDocument, classifier.CategoryUnknown:
	}

	up, err := upload(ctx, u, media.Data, whatsmeow.MediaDocument)
	if err != nil {
		return nil, err
	}
	fileName := media.FileName
	if fileName == "" {
		fileName = "file." + classifier.Classify(media.Data).Extension
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		Mimetype:      proto.String(media.Mime),
		FileName:      proto.String(fileName),
		Caption:       caption,
		FileLength:    proto.Uint64(up.FileLength),
		FileSHA256:    up.FileSHA256,
		FileEncSHA256: up.FileEncSHA256,
		MediaKey:      up.MediaKey,
	}}, nil
}

func upload(ctx context.Context, up uploader, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	resp, err := up.Upload(ctx, data, mediaType)
	if err != nil {
		return whatsmeow.UploadResponse{}, errors.Join(errors.New("Error While Uploading Media to WhatsApp Server"), err)
	}
	return resp, nil
}

// Thumbnail returns a small JPEG preview of an image, or nil when the image
// cannot be decoded
func Thumbnail(data []byte) []byte {
	img, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	var buf bytes.Buffer
	err = imgconv.Write(&buf,
		imgconv.Resize(img, &imgconv.ResizeOption{Width: thumbnailWidth}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return nil
	}
	return buf.Bytes()
}

// ToPNG converts any image imgconv can decode (webp stickers included) to PNG
func ToPNG(data []byte) ([]byte, error) {
	img, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New("Error While Decoding Convert Image Stream")
	}
	var buf bytes.Buffer
	if err := imgconv.Write(&buf, img, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
		return nil, errors.New("Error While Encoding Convert Image Stream")
	}
	return buf.Bytes(), nil
}
