package chat

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/farmpulse/storepulse/internal/apperr"
	"github.com/farmpulse/storepulse/internal/domain"
)

// Draft is an outbound message before it is sent.
type Draft struct {
	ReceiverID    string             `json:"receiver_id" validate:"required"`
	Content       string             `json:"content" validate:"required_if=Kind text,max=2000"`
	Kind          domain.MessageKind `json:"kind" validate:"required,oneof=text image file"`
	AttachmentRef string             `json:"attachment_ref,omitempty" validate:"required_unless=Kind text"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateDraft returns a VALIDATION error listing every failing field.
func validateDraft(v *validator.Validate, d Draft) error {
	err := v.Struct(d)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation("invalid message", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("field '%s': %s", fe.Field(), describe(fe)))
	}
	sort.Strings(msgs)
	return apperr.Validation("invalid message", errors.New(strings.Join(msgs, "; ")))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return "this field is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed on '%s'", fe.Tag())
	}
}
