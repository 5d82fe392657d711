// Package validator wraps go-playground/validator with the JSON field naming
// and contact rules used by the signing API.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// TagContact accepts an E.164 phone number or an e-mail address.
const TagContact = "contact"

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError is one failed rule. Field uses the JSON name when present.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects every failed rule of a single check.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	var b strings.Builder
	for i, fe := range v {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(fe.Field + " failed on " + fe.Tag)
		if fe.Param != "" {
			b.WriteString("=" + fe.Param)
		}
	}
	return b.String()
}

// ValidateStruct runs the validate tags of s.
func ValidateStruct(s any) error {
	return convert(instance().Struct(s))
}

// ValidateVar checks a single value against a tag expression such as "e164".
func ValidateVar(value any, tag string) error {
	return convert(instance().Var(value, tag))
}

// IsPhoneNumber reports whether value is an E.164 number.
func IsPhoneNumber(value string) bool {
	return ValidateVar(strings.TrimSpace(value), "required,e164") == nil
}

// IsEmail reports whether value is a syntactically valid e-mail address.
func IsEmail(value string) bool {
	return ValidateVar(strings.TrimSpace(value), "required,email") == nil
}

// IsContact reports whether value can receive a signing notification.
func IsContact(value string) bool {
	return ValidateVar(strings.TrimSpace(value), "required,"+TagContact) == nil
}

// RegisterValidation adds a custom rule to the shared validator.
func RegisterValidation(tag string, fn validator.Func) error {
	return instance().RegisterValidation(tag, fn)
}

func convert(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	failures := make(ValidationErrors, len(ve))
	for i, fe := range ve {
		failures[i] = ValidationError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return failures
}

func validateContact(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	return validate.Var(value, "e164") == nil || validate.Var(value, "email") == nil
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
		if err := validate.RegisterValidation(TagContact, validateContact); err != nil {
			panic(err)
		}
	})
	return validate
}
