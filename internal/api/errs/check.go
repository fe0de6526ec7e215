package errs

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/inspectra/pkg/web"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError is a single failed validation.
type FieldError struct {
	Field string
	Err   string
}

// FieldErrors collects the failed validations of a request.
type FieldErrors []FieldError

// Error implements the error interface.
func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, f := range fe {
		parts = append(parts, f.Field+": "+f.Err)
	}
	return strings.Join(parts, "; ")
}

// Fields maps each field to its message.
func (fe FieldErrors) Fields() map[string]string {
	m := make(map[string]string, len(fe))
	for _, f := range fe {
		m[f.Field] = f.Err
	}
	return m
}

// Check validates val with its validate struct tags.
func Check(val any) error {
	err := validate.Struct(val)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(FieldErrors, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, FieldError{Field: v.Field(), Err: message(v)})
	}
	return fields
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url", "http_url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "max":
		return "must have at most " + fe.Param() + " item(s)"
	}
	return "failed " + fe.Tag() + " validation"
}

// Decode reads the JSON body of r into v, validates it and returns the body
// as received.
func Decode(r *http.Request, v any) (json.RawMessage, *Error) {
	body, err := web.Decode(r, v)
	if err != nil {
		return nil, New(InvalidArgument, err)
	}
	if err := Check(v); err != nil {
		return nil, New(InvalidArgument, err)
	}
	return body, nil
}
