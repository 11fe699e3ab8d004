package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/commands"
)

func pingPlugin(d Deps) commands.Plugin {
	return commands.Plugin{
		Name:        "ping",
		Category:    "General",
		Description: "Check if the bot is alive",
		Handler: func(ctx context.Context, c *commands.Context) error {
			started := time.Now()
			if err := c.Send(ctx, d.BotName+": Pong!"); err != nil {
				return err
			}
			return c.Send(ctx, fmt.Sprintf("⏱️ %d ms", time.Since(started).Milliseconds()))
		},
	}
}

func alivePlugin(d Deps) commands.Plugin {
	return commands.Plugin{
		Name:        "alive",
		Category:    "General",
		Description: "Show how long the bot has been running",
		Handler: func(ctx context.Context, c *commands.Context) error {
			return c.Send(ctx, "⌚ *Bot Running From:* "+FormatUptime(time.Since(d.StartedAt)))
		},
	}
}

// FormatUptime renders d as "1d 2h 3m 4s", skipping zero units
func FormatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	units := []struct {
		size   int64
		suffix string
	}{
		{86400, "d"},
		{3600, "h"},
		{60, "m"},
		{1, "s"},
	}
	var parts []string
	for _, u := range units {
		if n := total / u.size; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
			total %= u.size
		}
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

func jidPlugin() commands.Plugin {
	return commands.Plugin{
		Name:        "jid",
		Category:    "Debug",
		Description: "Get the JID of the current chat",
		Handler: func(ctx context.Context, c *commands.Context) error {
			return c.Send(ctx, "🆔 *JID:* "+c.Chat)
		},
	}
}

func gjidPlugin(d Deps) commands.Plugin {
	return commands.Plugin{
		Name:        "gjid",
		Category:    "Debug",
		Description: "List joined groups and their JIDs",
		Handler: func(ctx context.Context, c *commands.Context) error {
			groups, err := d.WhatsApp.JoinedGroups(ctx, c.SessionID)
			if err != nil {
				return c.Send(ctx, "Error fetching groups.")
			}
			if len(groups) == 0 {
				return c.Send(ctx, "You are not a member of any groups.")
			}
			var b strings.Builder
			b.WriteString("Your groups and their JIDs:\n\n")
			for i, g := range groups {
				fmt.Fprintf(&b, "%d. %s: %s\n", i+1, g.Name, g.JID.String())
			}
			return c.Send(ctx, b.String())
		},
	}
}

func menuPlugin(d Deps) commands.Plugin {
	return commands.Plugin{
		Name:        "menu",
		Aliases:     []string{"help"},
		Category:    "General",
		Description: "List available commands",
		Handler: func(ctx context.Context, c *commands.Context) error {
			return c.Send(ctx, Menu(d.BotName, c.Prefix, c.Registry.Plugins()))
		},
	}
}

// Menu renders plugins grouped by category. Plugins must be sorted by
// category.
func Menu(title string, prefix string, plugins []commands.Plugin) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", title)
	category := ""
	for _, p := range plugins {
		if p.Category != category {
			category = p.Category
			fmt.Fprintf(&b, "\n*%s*\n", strings.ToUpper(category))
		}
		fmt.Fprintf(&b, "• %s%s", prefix, p.Name)
		if len(p.Aliases) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(p.Aliases, ", "))
		}
		if p.Description != "" {
			b.WriteString(": " + p.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
