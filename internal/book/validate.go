package book

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid record")

// ValidationError lists the fields of a record that failed validation,
// keyed by their JSON name.
type ValidationError struct {
	Record string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return fmt.Sprintf("invalid %s: %s", e.Record, strings.Join(parts, "; "))
}

// Is reports ErrInvalid as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Report JSON names so errors line up with the stored form.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		v.RegisterStructValidation(progressInBounds, ReadingProgress{})

		validate = v
	})
	return validate
}

func progressInBounds(sl validator.StructLevel) {
	p := sl.Current().Interface().(ReadingProgress)
	if p.TotalChunks > 0 && p.CurrentChunkIndex >= p.TotalChunks {
		sl.ReportError(p.CurrentChunkIndex, "currentChunkIndex", "CurrentChunkIndex", "ltfield", "totalChunks")
	}
}

// Validate checks a settings record.
func (s ReaderSettings) Validate() error {
	return check("settings", s)
}

// Validate checks a progress record.
func (p ReadingProgress) Validate() error {
	return check("progress", p)
}

// Validate checks a book record.
func (r BookRecord) Validate() error {
	return check("book record", r)
}

func check(record string, s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = friendlyMessage(fe)
	}
	return &ValidationError{Record: record, Fields: fields}
}

func friendlyMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "ltfield":
		return "must be less than " + fe.Param()
	default:
		return "is invalid"
	}
}
