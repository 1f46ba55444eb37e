package env

import "testing"

func TestGet(t *testing.T) {
	t.Setenv("REAPEARS_ENV_TEST", "set")
	if got := Get("REAPEARS_ENV_TEST", "fallback"); got != "set" {
		t.Fatalf("expected set, got %s", got)
	}
	t.Setenv("REAPEARS_ENV_TEST", "   ")
	if got := Get("REAPEARS_ENV_TEST", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for blank value, got %s", got)
	}
}

func TestFirstSkipsBlankKeys(t *testing.T) {
	t.Setenv("REAPEARS_ENV_A", "")
	t.Setenv("REAPEARS_ENV_B", "web.1")
	t.Setenv("REAPEARS_ENV_C", "ignored")
	if got := First("REAPEARS_ENV_A", "REAPEARS_ENV_B", "REAPEARS_ENV_C"); got != "web.1" {
		t.Fatalf("expected web.1, got %s", got)
	}
	if got := First("REAPEARS_ENV_A"); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}
