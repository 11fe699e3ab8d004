// Package validation checks request bodies and chat identifiers.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

var (
	phonePattern = regexp.MustCompile(`^[1-9][0-9]{5,15}$`)

	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("jid", func(fl validator.FieldLevel) bool {
			return ValidateChatJID(fl.Field().String()) == nil
		})
	})
	return validate
}

// Struct validates v against its `validate` tags and returns the first
// failure as a readable error
func Struct(v interface{}) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", strings.ToLower(fe.Field()))
		case "jid":
			return fmt.Errorf("%s must be a phone number or WhatsApp JID", strings.ToLower(fe.Field()))
		case "max":
			return fmt.Errorf("%s must be at most %s characters", strings.ToLower(fe.Field()), fe.Param())
		}
		return fmt.Errorf("%s is invalid", strings.ToLower(fe.Field()))
	}
	return err
}

// ValidatePhone ensures international format without a leading 0
func ValidatePhone(phone string) error {
	trimmed := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if trimmed == "" {
		return errors.New("phone number cannot be empty")
	}
	if strings.HasPrefix(trimmed, "0") {
		return errors.New("phone number must be in international format without leading 0")
	}
	if !phonePattern.MatchString(trimmed) {
		return errors.New("phone number must be digits only and at least 6 characters")
	}
	return nil
}

// ValidateChatJID accepts a bare phone number or a user, group or newsletter
// JID
func ValidateChatJID(chatJID string) error {
	chatJID = strings.TrimSpace(chatJID)
	if chatJID == "" {
		return errors.New("chat jid is required")
	}
	if !strings.Contains(chatJID, "@") {
		return ValidatePhone(chatJID)
	}
	jid, err := whatsapp.ParseJID(chatJID)
	if err != nil {
		return err
	}
	if jid.User == "" {
		return whatsapp.ErrInvalidJID
	}
	switch jid.Server {
	case types.DefaultUserServer, types.GroupServer, types.NewsletterServer, types.HiddenUserServer:
		return nil
	}
	return fmt.Errorf("unsupported chat server %s", jid.Server)
}
