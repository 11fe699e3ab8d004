package commands

import (
	"context"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/classifier"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/commands"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

func toImagePlugin(d Deps) commands.Plugin {
	return commands.Plugin{
		Name:        "toimg",
		Category:    "Tools",
		Description: "Convert the replied sticker to an image",
		Handler: func(ctx context.Context, c *commands.Context) error {
			sticker := message.Unwrap(c.Envelope.Quoted()).GetStickerMessage()
			if sticker == nil {
				return c.Send(ctx, "❌ Reply to a sticker.")
			}
			data, err := d.WhatsApp.Download(ctx, c.SessionID, sticker)
			if err != nil {
				return err
			}
			png, err := whatsapp.ToPNG(data)
			if err != nil {
				return c.Send(ctx, "❌ Animated or unsupported sticker.")
			}
			_, err = d.WhatsApp.SendMedia(ctx, c.SessionID, c.Chat, whatsapp.Media{
				Data:     png,
				Mime:     "image/png",
				Category: classifier.CategoryImage,
			})
			return err
		},
	}
}
