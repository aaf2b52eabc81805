package task

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateCompletion checks the shape of a submitted completion record.
func ValidateCompletion(rec *CompletionRecord) error {
	if rec == nil {
		return Validationf("completion record is required")
	}
	if err := validatorInstance().Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return Validationf("invalid completion record: %s", strings.Join(fields, ", "))
		}
		return Validationf("invalid completion record: %v", err)
	}
	return nil
}

// ValidateNew checks the caller-supplied fields of a task before creation.
func ValidateNew(t *Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return Validationf("title is required")
	}
	if !t.Kind.Valid() {
		return Validationf("unknown kind %q", t.Kind)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return Validationf("unknown priority %q", t.Priority)
	}
	if t.BoardID == "" {
		return Validationf("board is required")
	}
	return nil
}
