package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/quorum/pkg/errors"
	"github.com/charlesng35/quorum/pkg/response"
	appValidator "github.com/charlesng35/quorum/pkg/validator"
)

// bindAndValidate decodes the JSON body into dest and checks its validate
// tags. On failure it writes a VALIDATION_FAILED response and returns false.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewValidation(describeDecodeError(err)))
		return false
	}
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewValidation(formatValidationError(err)))
		return false
	}
	return true
}

func describeDecodeError(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, io.EOF):
		return "request body is required"
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("invalid JSON payload at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type.Kind())
	default:
		return "invalid JSON payload"
	}
}

// ruleMessages renders a failed rule; %[1]s is the field and %[2]s the rule parameter.
var ruleMessages = map[string]string{
	"required":              "%[1]s is required",
	"max":                   "%[1]s must be at most %[2]s characters",
	"len":                   "%[1]s must be exactly %[2]s characters",
	"numeric":               "%[1]s must contain only digits",
	"uuid":                  "%[1]s must be a UUID",
	appValidator.TagContact: "%[1]s must be an E.164 phone number or e-mail address",
}

func formatValidationError(err error) string {
	var failures appValidator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(failures))
	for _, f := range failures {
		field := f.Field
		if field == "" {
			field = "field"
		}
		switch format, ok := ruleMessages[f.Tag]; {
		case f.Tag == "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, strings.Join(strings.Fields(f.Param), ", ")))
		case ok:
			messages = append(messages, fmt.Sprintf(format, field, f.Param))
		case f.Param != "":
			messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, f.Tag, f.Param))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, f.Tag))
		}
	}
	return strings.Join(messages, "; ")
}
