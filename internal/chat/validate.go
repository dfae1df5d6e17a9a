package chat

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("msgtype", func(fl validator.FieldLevel) bool {
		return domain.MessageType(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("convtype", func(fl validator.FieldLevel) bool {
		return domain.ConversationType(fl.Field().String()).IsValid()
	})
	return v
}

// invalid turns a validator failure into an invalid_input error naming the first bad field.
func invalid(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid input", err)
	}
	fe := ve[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "msgtype":
		msg = fmt.Sprintf("%s must be one of text, image, audio, file, bible_verse, prayer", fe.Field())
	case "convtype":
		msg = fmt.Sprintf("%s must be one of direct, group, announcement", fe.Field())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())
	default:
		msg = fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
	return apperr.Invalid(msg)
}
