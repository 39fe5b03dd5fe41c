package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the name the client sent, not the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name := strings.Split(f.Tag.Get(tag), ",")[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("udecimal", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && !d.IsNegative()
	})
	return v
}

// ReadAndValidateRequest binds the request into req, fills `default` tags and
// runs struct validation. It returns nil or a []ValidationError.
func ReadAndValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) interface{} {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Params:  fieldParams(fe),
			})
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: msg}}
}

// messageFormats maps a validator tag to a format taking the field name and
// the tag parameter.
var messageFormats = map[string]string{
	"required":        "%s is required%.0s",
	"required_if":     "%s is required when %s",
	"required_unless": "%s is required when %s",
	"decimal":         "%s must be a decimal number%.0s",
	"udecimal":        "%s must be a non-negative decimal number%.0s",
	"min":             "%s must be at least %s",
	"max":             "%s must be at most %s",
	"gt":              "%s must be greater than %s",
	"gte":             "%s must be greater than or equal to %s",
	"lt":              "%s must be less than %s",
	"lte":             "%s must be less than or equal to %s",
}

func fieldMessage(fe validator.FieldError) string {
	switch tag := fe.Tag(); {
	case tag == "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case (tag == "min" || tag == "max") && fe.Kind() == reflect.String:
		return fmt.Sprintf(messageFormats[tag]+" characters", fe.Field(), fe.Param())
	default:
		if format, ok := messageFormats[tag]; ok {
			return fmt.Sprintf(format, fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s failed validation: %s", fe.Field(), tag)
	}
}

func fieldParams(fe validator.FieldError) map[string]interface{} {
	key := ""
	switch fe.Tag() {
	case "min", "gte":
		key = "min"
	case "max", "lte":
		key = "max"
	case "gt", "lt":
		key = "value"
	case "required_if", "required_unless":
		key = "condition"
	case "oneof":
		return map[string]interface{}{"options": strings.Split(fe.Param(), " ")}
	}
	if key == "" {
		return map[string]interface{}{}
	}
	return map[string]interface{}{key: fe.Param()}
}
