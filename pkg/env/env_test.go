package env

import "testing"

func TestGet(t *testing.T) {
	t.Setenv("LOYALTY_ENV_TEST", "  value ")
	if got := Get("LOYALTY_ENV_TEST", "fallback"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	t.Setenv("LOYALTY_ENV_TEST", "   ")
	if got := Get("LOYALTY_ENV_TEST", "fallback"); got != "fallback" {
		t.Fatalf("blank value should fall back, got %q", got)
	}
}
