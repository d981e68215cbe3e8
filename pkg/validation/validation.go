// Package validation checks answers given to capture_input prompts.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Input types accepted by capture_input.
const (
	TypeText   = "text"
	TypeRegex  = "regex"
	TypeEmail  = "email"
	TypePhone  = "phone"
	TypeNumber = "number"
	TypeURL    = "url"
	TypeDate   = "date"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnknownType    = errors.New("unknown input type")
	ErrInvalidPattern = errors.New("invalid validation pattern")
)

var (
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	dateLayouts     = []string{"2006-01-02", "02/01/2006", "01/02/2006", "2006/01/02", time.RFC3339}
)

// Validator validates answers. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

// New returns a Validator with the phone and date rules registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(phoneSeparators.Replace(fl.Field().String()))
	})

	_ = v.RegisterValidation("flexdate", func(fl validator.FieldLevel) bool {
		_, ok := ParseDate(fl.Field().String())

		return ok
	})

	return &Validator{validate: v}
}

// SupportedType reports whether inputType is known.
func SupportedType(inputType string) bool {
	switch inputType {
	case "", TypeText, TypeRegex, TypeEmail, TypePhone, TypeNumber, TypeURL, TypeDate:
		return true
	default:
		return false
	}
}

// Validate checks answer against inputType and returns the value to store:
// numbers are stored as float64, everything else as trimmed text.
func (v *Validator) Validate(inputType, pattern, answer string) (any, error) {
	answer = strings.TrimSpace(answer)

	switch inputType {
	case "", TypeText:
		if answer == "" {
			return nil, fmt.Errorf("%w: empty answer", ErrInvalidInput)
		}

		return answer, nil
	case TypeRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
		}

		if !re.MatchString(answer) {
			return nil, fmt.Errorf("%w: does not match pattern", ErrInvalidInput)
		}

		return answer, nil
	case TypeEmail:
		return answer, v.check(answer, "required,email")
	case TypePhone:
		return answer, v.check(answer, "required,phone")
	case TypeURL:
		return answer, v.check(answer, "required,http_url")
	case TypeDate:
		return answer, v.check(answer, "required,flexdate")
	case TypeNumber:
		if err := v.check(answer, "required,numeric"); err != nil {
			return nil, err
		}

		num, err := strconv.ParseFloat(answer, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}

		return num, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, inputType)
	}
}

func (v *Validator) check(answer, tag string) error {
	if err := v.validate.Var(answer, tag); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return nil
}

// ParseDate parses the date layouts accepted by capture_input.
func ParseDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
