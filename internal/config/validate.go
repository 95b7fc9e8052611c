package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/steveyegge/polyrev/internal/types"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// jobIDRegex keeps reviewer ids safe to use as report file names and store keys.
var jobIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("jobid", func(fl validator.FieldLevel) bool {
			return jobIDRegex.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
			_, err := types.ParsePriority(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks field constraints and cross references: every scope a
// reviewer names must exist, reviewer ids must be unique, and at least one
// reviewer must be enabled.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return &ConfigError{Err: describe(err)}
	}

	if c.State.RedisTTL != "" {
		if _, err := time.ParseDuration(c.State.RedisTTL); err != nil {
			return &ConfigError{Err: fmt.Errorf("state.redis_ttl: %w", err)}
		}
	}

	seen := make(map[string]bool, len(c.Reviewers))
	for _, r := range c.Reviewers {
		if seen[r.ID] {
			return &ConfigError{Err: fmt.Errorf("duplicate reviewer id %q", r.ID)}
		}
		seen[r.ID] = true
		for _, s := range r.Scopes {
			if _, ok := c.Scopes[s]; !ok {
				return &ConfigError{Err: fmt.Errorf("reviewer %q references unknown scope %q", r.ID, s)}
			}
		}
	}

	if len(c.EnabledReviewers()) == 0 {
		return &ConfigError{Err: errors.New("no reviewers enabled")}
	}
	return nil
}

// describe flattens validator errors into one line per field.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required when %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		case "min", "max", "eq":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s, got %v", field, fe.Tag(), fe.Param(), fe.Value()))
		case "jobid":
			msgs = append(msgs, fmt.Sprintf("%s %q may only contain letters, digits, '.', '_' and '-'", field, fe.Value()))
		case "priority":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a priority (p0, p1, p2)", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
