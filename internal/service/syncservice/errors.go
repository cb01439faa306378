package syncservice

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/erauner12/articlesync-api/internal/store"
	"github.com/go-playground/validator/v10"
)

// ErrUnavailable is the store fault that aborts a whole sync request
var ErrUnavailable = store.ErrUnavailable

// ValidationError indicates a malformed request. Nothing has been written
// when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RecordError describes one pushed record that was skipped
type RecordError struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

func (e RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("change %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("change %d (%s): %s", e.Index, e.ID, e.Reason)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so errors match what the client sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// toValidationError reduces validator output to the first failing field
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "gte", "min":
		reason = fmt.Sprintf("must be at least %s", fe.Param())
	case "lte", "max":
		reason = fmt.Sprintf("must be at most %s", fe.Param())
	case "excludesall":
		reason = "contains forbidden characters"
	default:
		reason = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return &ValidationError{Field: fe.Field(), Reason: reason}
}
