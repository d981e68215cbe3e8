package template

import (
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func vars() models.Variables {
	return models.Variables{
		"name":  "Ana",
		"age":   float64(30),
		"vip":   true,
		"order": map[string]any{"id": "o-1", "items": []any{map[string]any{"sku": "A"}}},
	}
}

func TestInterpolate(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text", "hello", "hello"},
		{"single variable", "Hi {{name}}!", "Hi Ana!"},
		{"spaces inside braces", "Hi {{ name }}!", "Hi Ana!"},
		{"number", "You are {{age}}", "You are 30"},
		{"nested path", "Order {{order.id}}", "Order o-1"},
		{"slice index", "SKU {{order.items.0.sku}}", "SKU A"},
		{"missing variable", "Hi {{nobody}}.", "Hi ."},
		{"out of range index", "{{order.items.5.sku}}", ""},
		{"map renders as json", "{{order.items}}", `[{"sku":"A"}]`},
		{"unterminated braces kept", "{{name", "{{name"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Interpolate(tc.input, vars()))
		})
	}
}

func TestNeedsTemplating(t *testing.T) {
	assert.True(t, NeedsTemplating("Hi {{name}}"))
	assert.False(t, NeedsTemplating("Hi there"))
	assert.False(t, NeedsTemplating("{{ }}"))
}

func TestRender_KeepsTypeOfSinglePlaceholder(t *testing.T) {
	assert.Equal(t, float64(30), Render("{{age}}", vars()))
	assert.Equal(t, true, Render(" {{vip}} ", vars()))
	assert.Equal(t, map[string]any{"id": "o-1", "items": []any{map[string]any{"sku": "A"}}}, Render("{{order}}", vars()))
	assert.Equal(t, "", Render("{{missing}}", vars()))
}

func TestRender_CoercesText(t *testing.T) {
	assert.Equal(t, float64(31), Render("31", vars()))
	assert.Equal(t, "Ana is 30", Render("{{name}} is {{age}}", vars()))
	assert.Equal(t, map[string]any{"who": "Ana"}, Render(`{"who":"{{name}}"}`, vars()))
	assert.Equal(t, "{not json}", Render("{not json}", vars()))
}

func TestRenderValue_WalksStructures(t *testing.T) {
	body := map[string]any{
		"customer": "{{name}}",
		"tags":     []any{"{{order.id}}", 5},
		"count":    2,
	}

	rendered := RenderValue(body, vars())

	assert.Equal(t, map[string]any{
		"customer": "Ana",
		"tags":     []any{"o-1", 5},
		"count":    2,
	}, rendered)
	assert.Equal(t, "{{name}}", body["customer"])
}
