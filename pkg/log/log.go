package log

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
)

var (
	logger    = logrus.New()
	setupOnce sync.Once
)

func setup() {
	setupOnce.Do(func() {
		switch strings.ToLower(env.GetEnvStringOrDefault("LOG_FORMAT", "text")) {
		case "json":
			logger.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
		default:
			logger.Formatter = &logrus.TextFormatter{
				TimestampFormat: time.RFC3339,
				FullTimestamp:   true,
				ForceColors:     true,
			}
		}
		level, err := logrus.ParseLevel(env.GetEnvStringOrDefault("LOG_LEVEL", "info"))
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	})
}

func Print(c *fiber.Ctx) *logrus.Entry {
	setup()

	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	remoteIP := c.IP()
	if v := c.Locals("remote_ip"); v != nil {
		if ip, ok := v.(string); ok && ip != "" {
			remoteIP = ip
		}
	}
	fields := logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	}
	if v, ok := c.Locals("request_id").(string); ok && v != "" {
		fields["request_id"] = v
	}
	return logger.WithFields(fields)
}

// Session scopes an entry to one WhatsApp session and operation
func Session(sessionID string, op string) *logrus.Entry {
	return Print(nil).WithField("session_id", sessionID).WithField("op", op)
}

func Forward(sessionID string, source string) *logrus.Entry {
	return Session(sessionID, "forward").WithField("source", MaskJID(source))
}

func SysErr(scope string, err error) {
	if err == nil {
		return
	}
	Print(nil).WithField("scope", scope).WithError(err).Error("internal error")
}

// MaskJID hides the last four characters of the user part
func MaskJID(jid string) string {
	user, server, found := strings.Cut(jid, "@")
	if len(user) < 4 {
		return jid
	}
	masked := user[:len(user)-4] + "xxxx"
	if found {
		return masked + "@" + server
	}
	return masked
}
