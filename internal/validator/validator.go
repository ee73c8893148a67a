package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/stemsi/exam-orchestrator/internal/schedule"
)

var trans ut.Translator

// custom lists the tags this service adds on top of the validator builtins,
// each with its English message.
var custom = []struct {
	tag     string
	fn      govalidator.Func
	message string
}{
	{
		tag: "clock",
		fn: func(fl govalidator.FieldLevel) bool {
			_, _, err := schedule.ParseClock(fl.Field().String())
			return err == nil
		},
		message: "{0} must be a time of day such as 09:30 AM",
	},
}

// Setup wires English messages and the custom tags into Gin's binding engine.
// Call once during startup, before the router serves traffic.
func Setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(fieldName)

	locale := en.New()
	trans, _ = ut.New(locale, locale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	for _, c := range custom {
		_ = v.RegisterValidation(c.tag, c.fn)
		msg := c.message
		_ = v.RegisterTranslation(c.tag, trans,
			func(t ut.Translator) error { return t.Add(c.tag, msg, true) },
			func(t ut.Translator, fe govalidator.FieldError) string {
				s, _ := t.T(fe.Tag(), fe.Field())
				return s
			})
	}
}

// fieldName reports fields by their json (or form) name so error keys match
// what the client sent.
func fieldName(fld reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		default:
			return name
		}
	}
	return ""
}

// TranslateErrors maps validation failures to field -> message. Errors that
// are not validation failures (malformed JSON, wrong types) land under
// "detail".
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"detail": err.Error()}
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		if trans == nil {
			fields[fe.Field()] = fe.Error()
			continue
		}
		fields[fe.Field()] = fe.Translate(trans)
	}
	return fields
}

// Bind decodes and validates the JSON body into dst. A nil result means success.
func Bind(c *gin.Context, dst any) map[string]string {
	return check(c.ShouldBindJSON(dst))
}

// BindQuery is Bind for query parameters, matched by form tags.
func BindQuery(c *gin.Context, dst any) map[string]string {
	return check(c.ShouldBindQuery(dst))
}

func check(err error) map[string]string {
	if err == nil {
		return nil
	}
	return TranslateErrors(err)
}
