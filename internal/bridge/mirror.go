package bridge

import (
	"context"
	"fmt"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/sanitizer"
)

// Mirror copies text from the configured WhatsApp chats into the Telegram
// mirror chat. It does nothing until the bridge is started.
func (b *Bridge) Mirror(ctx context.Context, e message.Envelope) {
	if b.cfg.MirrorChatID == 0 || e.Payload == nil || e.IsSelfOriginated {
		return
	}
	if _, ok := b.mirrored[e.SourceID]; !ok {
		return
	}
	_, api := b.session()
	if api == nil {
		return
	}
	text := sanitizer.CollapseWhitespace(e.Text())
	if text == "" {
		return
	}
	from := e.PushName
	if from == "" {
		from = log.MaskJID(e.Sender.User)
	}
	b.reply(ctx, api, b.cfg.MirrorChatID, fmt.Sprintf("📩 %s\n\n%s", from, text))
}
