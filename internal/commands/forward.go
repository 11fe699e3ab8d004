package commands

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/commands"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
)

func forwardPlugin(d Deps) commands.Plugin {
	return commands.Plugin{
		Name:        "forward",
		Aliases:     []string{"f"},
		Category:    "Tools",
		Description: "Forward the replied message to a comma separated list of JIDs",
		Usage:       "forward <jid>, <jid>",
		Handler: func(ctx context.Context, c *commands.Context) error {
			quoted := message.Unwrap(c.Envelope.Quoted())
			if quoted == nil {
				return c.Send(ctx, "❌ Please reply to a message you want to forward.")
			}

			targets := parseTargets(c.RawArgs)
			if len(targets) == 0 {
				return c.Send(ctx, "❌ *Invalid Usage*\n\nProvide JIDs separated by commas.\nExample: `"+c.Prefix+"f 123@s.whatsapp.net, 456@g.us, 120363@newsletter`")
			}

			payload, ok := proto.Clone(quoted).(*waE2E.Message)
			if !ok {
				return fmt.Errorf("clone quoted message")
			}

			if err := c.Send(ctx, fmt.Sprintf("🚀 *Relaying message to %d targets...*", len(targets))); err != nil {
				return err
			}

			limiter := rate.NewLimiter(rate.Every(d.ForwardInterval), 1)
			var failed []string
			for _, target := range targets {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				if _, err := d.WhatsApp.Relay(ctx, c.SessionID, target, payload); err != nil {
					log.Session(c.SessionID, "command").WithError(err).WithField("target", log.MaskJID(target)).Warn("Relay Failed")
					failed = append(failed, target)
				}
			}
			return c.Send(ctx, ForwardReport(len(targets)-len(failed), failed))
		},
	}
}

func ForwardReport(sent int, failed []string) string {
	var b strings.Builder
	b.WriteString("✅ *Forwarding Processed*\n\n")
	fmt.Fprintf(&b, "📤 *Sent:* %d\n", sent)
	fmt.Fprintf(&b, "❌ *Failed:* %d", len(failed))
	if len(failed) > 0 {
		b.WriteString("\n\n*Failed List:*")
		for _, jid := range failed {
			b.WriteString("\n> " + jid)
		}
	}
	return b.String()
}
