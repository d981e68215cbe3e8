package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate(t *testing.T) {
	v := New()

	testCases := []struct {
		name      string
		inputType string
		pattern   string
		answer    string
		valid     bool
	}{
		{"text", TypeText, "", "hello", true},
		{"empty text", TypeText, "", "   ", false},
		{"default type is text", "", "", "anything", true},
		{"email", TypeEmail, "", "a@b.com", true},
		{"not an email", TypeEmail, "", "not-an-email", false},
		{"phone with separators", TypePhone, "", "+1 (555) 123-4567", true},
		{"phone too short", TypePhone, "", "123", false},
		{"phone with letters", TypePhone, "", "555-CALL-NOW", false},
		{"integer", TypeNumber, "", "42", true},
		{"decimal", TypeNumber, "", "-3.5", true},
		{"not a number", TypeNumber, "", "forty", false},
		{"url", TypeURL, "", "https://example.com/a", true},
		{"not a url", TypeURL, "", "example", false},
		{"iso date", TypeDate, "", "2024-02-29", true},
		{"slash date", TypeDate, "", "29/02/2024", true},
		{"not a date", TypeDate, "", "tomorrow", false},
		{"regex match", TypeRegex, `^[A-Z]{3}-\d+$`, "ABC-12", true},
		{"regex mismatch", TypeRegex, `^[A-Z]{3}-\d+$`, "abc-12", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(tc.inputType, tc.pattern, tc.answer)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidInput)
			}
		})
	}
}

func TestValidator_NumberIsStoredAsFloat(t *testing.T) {
	value, err := New().Validate(TypeNumber, "", " 7 ")
	require.NoError(t, err)
	assert.Equal(t, float64(7), value)
}

func TestValidator_BadPatternAndUnknownType(t *testing.T) {
	v := New()

	_, err := v.Validate(TypeRegex, "(", "x")
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = v.Validate("color", "", "red")
	require.ErrorIs(t, err, ErrUnknownType)
	assert.False(t, SupportedType("color"))
	assert.True(t, SupportedType(TypeEmail))
}
