package service

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrInvalidRecipient = errors.New("cannot send a message to yourself")
	ErrEmptyMessage     = errors.New("message has no text, attachment or location")
	ErrNotReacted       = errors.New("user has not reacted with this emoji")
)

// ValidationError carries per-field reasons for rejected input. Nothing is
// persisted when it is returned.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, reason string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], reason)
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

// orNil returns e only if it holds at least one field error.
func (e *ValidationError) orNil() error {
	if e.empty() {
		return nil
	}
	return e
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the struct tags of v and folds failures into a
// ValidationError keyed by the json name of each field.
func validateStruct(v interface{}) *ValidationError {
	verr := &ValidationError{}
	err := validate.Struct(v)
	if err == nil {
		return verr
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("_", err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.Add(fieldName(fe), reason(fe))
	}
	return verr
}

func fieldName(fe validator.FieldError) string {
	if n := fe.Field(); n != "" {
		return n
	}
	return fe.StructField()
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "latitude":
		return "must be a valid latitude"
	case "longitude":
		return "must be a valid longitude"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return jsonName(fld.Tag.Get("json"))
	})
}

func jsonName(tag string) string {
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}
