package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/commands"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/store"
)

const noStoreNotice = "❌ Settings storage is not available."

func autoForwardPlugin() commands.Plugin {
	return commands.Plugin{
		Name:        "autoforward",
		Aliases:     []string{"af"},
		Category:    "Admin",
		Description: "Forward media and emoji from this group to stored targets",
		Usage:       "autoforward on|off|set <jids>|add <jid>|clear",
		GroupOnly:   true,
		AdminOnly:   true,
		Handler:     handleAutoForward,
	}
}

func handleAutoForward(ctx context.Context, c *commands.Context) error {
	if c.Settings == nil {
		return c.Send(ctx, noStoreNotice)
	}
	current, err := c.Settings.GetGroupSettings(ctx, c.SessionID, c.Chat)
	if err != nil {
		return err
	}

	if len(c.Args) == 0 {
		state := "off"
		if current.AutoForward {
			state = "on"
		}
		targets := "none"
		if len(current.AutoForwardTargets) > 0 {
			targets = strings.Join(current.AutoForwardTargets, ", ")
		}
		return c.Send(ctx, fmt.Sprintf("🔁 *Auto Forward:* %s\n🎯 *Targets:* %s\n\nUsage: `%sautoforward on|off|set <jids>|add <jid>|clear`", state, targets, c.Prefix))
	}

	update := func(fn func(*store.GroupSettings)) (store.GroupSettings, error) {
		return c.Settings.UpdateGroupSettings(ctx, c.SessionID, c.Chat, fn)
	}

	switch action := strings.ToLower(c.Args[0]); action {
	case "on":
		if len(current.AutoForwardTargets) == 0 {
			return c.Send(ctx, fmt.Sprintf("⚠️ Set target JIDs first: `%sautoforward set <jids>`", c.Prefix))
		}
		if _, err := update(func(g *store.GroupSettings) { g.AutoForward = true }); err != nil {
			return err
		}
		return c.Send(ctx, "✅ Auto forward enabled for this group.")

	case "off":
		if _, err := update(func(g *store.GroupSettings) { g.AutoForward = false }); err != nil {
			return err
		}
		return c.Send(ctx, "✅ Auto forward disabled.")

	case "set":
		targets := parseTargets(strings.TrimSpace(strings.TrimPrefix(c.RawArgs, c.Args[0])))
		if len(targets) == 0 {
			return c.Send(ctx, fmt.Sprintf("❌ Usage: `%sautoforward set jid1, jid2`", c.Prefix))
		}
		saved, err := update(func(g *store.GroupSettings) { g.AutoForwardTargets = targets })
		if err != nil {
			return err
		}
		return c.Send(ctx, fmt.Sprintf("✅ %d target JIDs saved.", len(saved.AutoForwardTargets)))

	case "add":
		if len(c.Args) < 2 {
			return c.Send(ctx, fmt.Sprintf("❌ Usage: `%sautoforward add <jid>`", c.Prefix))
		}
		jid := parseTargets(c.Args[1])
		if len(jid) == 0 {
			return c.Send(ctx, fmt.Sprintf("❌ Usage: `%sautoforward add <jid>`", c.Prefix))
		}
		for _, existing := range current.AutoForwardTargets {
			if existing == jid[0] {
				return c.Send(ctx, "⚠️ This JID is already a target.")
			}
		}
		if _, err := update(func(g *store.GroupSettings) {
			g.AutoForwardTargets = append(g.AutoForwardTargets, jid[0])
		}); err != nil {
			return err
		}
		return c.Send(ctx, "✅ Target added: "+jid[0])

	case "clear":
		if _, err := update(func(g *store.GroupSettings) {
			g.AutoForward = false
			g.AutoForwardTargets = nil
		}); err != nil {
			return err
		}
		return c.Send(ctx, "✅ All auto forward targets cleared and the feature disabled.")
	}
	return c.Send(ctx, fmt.Sprintf("❌ Unknown action. Send `%sautoforward` for help.", c.Prefix))
}

func togglePlugin() commands.Plugin {
	return commands.Plugin{
		Name:        "toggle",
		Category:    "Admin",
		Description: "Enable or disable a command in this chat",
		Usage:       "toggle <command> on|off",
		OwnerOnly:   true,
		Handler: func(ctx context.Context, c *commands.Context) error {
			if c.Settings == nil {
				return c.Send(ctx, noStoreNotice)
			}
			usage := fmt.Sprintf("❌ Usage: %stoggle <command> on/off", c.Prefix)
			if len(c.Args) < 2 {
				return c.Send(ctx, usage)
			}
			plugin, ok := c.Registry.Lookup(c.Args[0])
			if !ok {
				return c.Send(ctx, fmt.Sprintf("❌ Command %s does not exist.", c.Args[0]))
			}
			if plugin.Name == "toggle" {
				return c.Send(ctx, "❌ You cannot toggle the toggle command.")
			}

			var enable bool
			switch strings.ToLower(c.Args[1]) {
			case "on", "enable":
				enable = true
			case "off", "disable":
				enable = false
			default:
				return c.Send(ctx, usage)
			}

			_, err := c.Settings.UpdateGroupSettings(ctx, c.SessionID, c.Chat, func(g *store.GroupSettings) {
				kept := g.DisabledCommands[:0]
				for _, name := range g.DisabledCommands {
					if !strings.EqualFold(name, plugin.Name) {
						kept = append(kept, name)
					}
				}
				if !enable {
					kept = append(kept, plugin.Name)
				}
				g.DisabledCommands = kept
			})
			if err != nil {
				return err
			}
			state := "enabled"
			if !enable {
				state = "disabled"
			}
			return c.Send(ctx, fmt.Sprintf("✅ Command *%s* has been %s in this chat.", plugin.Name, state))
		},
	}
}
