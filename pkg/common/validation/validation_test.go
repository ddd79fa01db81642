package validation

import (
	"testing"
	"time"

	"github.com/vnykmshr/datatide/pkg/common/errors"
)

type options struct {
	Mode        string        `validate:"omitempty,oneof=fast slow"`
	Concurrency int           `validate:"gte=0"`
	Timeout     time.Duration `validate:"gte=0"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name      string
		opts      options
		wantField string
	}{
		{"zero value", options{}, ""},
		{"valid", options{Mode: "fast", Concurrency: 4, Timeout: time.Second}, ""},
		{"bad mode", options{Mode: "medium"}, "Mode"},
		{"negative concurrency", options{Concurrency: -1}, "Concurrency"},
		{"negative timeout", options{Timeout: -time.Second}, "Timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct("test", tt.opts)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			var valErr *errors.ValidationError
			if !asValidation(err, &valErr) {
				t.Fatalf("expected ValidationError, got %T (%v)", err, err)
			}
			if valErr.Module != "test" {
				t.Errorf("Module = %q, want test", valErr.Module)
			}
			if valErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", valErr.Field, tt.wantField)
			}
		})
	}
}

func TestStructOneOfHint(t *testing.T) {
	err := Struct("tide", options{Mode: "medium"})

	var valErr *errors.ValidationError
	if !asValidation(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if valErr.Reason != "unsupported value" {
		t.Errorf("Reason = %q", valErr.Reason)
	}
	if valErr.Hint != "use one of: fast slow" {
		t.Errorf("Hint = %q", valErr.Hint)
	}
}

func TestValidatePositive(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"positive value", 10, false},
		{"positive value 1", 1, false},
		{"zero value", 0, true},
		{"negative value", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositive("test", "count", tt.value)

			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				if !errors.IsValidationError(err) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateNotNil(t *testing.T) {
	tests := []struct {
		name      string
		value     interface{}
		wantError bool
	}{
		{"non-nil int", 123, false},
		{"non-nil pointer", new(int), false},
		{"non-nil map", map[string]int{}, false},
		{"nil value", nil, true},
		{"nil pointer", (*int)(nil), true},
		{"nil func", (func())(nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNotNil("test", "config", tt.value)

			if tt.wantError {
				if !errors.IsValidationError(err) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateNotEmpty(t *testing.T) {
	if err := ValidateNotEmpty("test", "name", "value"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := ValidateNotEmpty("test", "name", " "); err != nil {
		t.Errorf("whitespace is not empty, got %v", err)
	}
	if err := ValidateNotEmpty("test", "name", ""); !errors.IsValidationError(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidatePositive("workerpool", "size", -5)

	var valErr *errors.ValidationError
	if !asValidation(err, &valErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if valErr.Module != "workerpool" || valErr.Field != "size" {
		t.Errorf("unexpected attribution %s.%s", valErr.Module, valErr.Field)
	}
	if valErr.Value != -5 {
		t.Errorf("Value = %v, want -5", valErr.Value)
	}
	if valErr.Hint == "" {
		t.Error("expected a hint")
	}
}

func asValidation(err error, target **errors.ValidationError) bool {
	v, ok := err.(*errors.ValidationError)
	if ok {
		*target = v
	}
	return ok
}
