package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	if got := String("PROPENSITY_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	t.Setenv("PROPENSITY_ENV_STRING", "value")
	if got := String("PROPENSITY_ENV_STRING", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestStrings(t *testing.T) {
	t.Setenv("PROPENSITY_ENV_LIST", " id, ,Gender ,")
	got := Strings("PROPENSITY_ENV_LIST", nil)
	if len(got) != 2 || got[0] != "id" || got[1] != "Gender" {
		t.Fatalf("Strings()=%v, want [id Gender]", got)
	}
	def := Strings("PROPENSITY_ENV_LIST_MISSING", []string{"x"})
	if len(def) != 1 || def[0] != "x" {
		t.Fatalf("Strings()=%v, want default", def)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("PROPENSITY_ENV_DURATION_MISSING", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration()=%v err=%v, want 5s", got, err)
	}
	t.Setenv("PROPENSITY_ENV_DURATION", "250ms")
	got, err = Duration("PROPENSITY_ENV_DURATION", 5*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}
	t.Setenv("PROPENSITY_ENV_DURATION_BAD", "soon")
	if _, err := Duration("PROPENSITY_ENV_DURATION_BAD", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("PROPENSITY_ENV_BOOL", "true")
	b, err := Bool("PROPENSITY_ENV_BOOL", false)
	if err != nil || !b {
		t.Fatalf("Bool()=%v err=%v, want true", b, err)
	}
	t.Setenv("PROPENSITY_ENV_INT", "nope")
	if _, err := Int("PROPENSITY_ENV_INT", 1); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestFloat64(t *testing.T) {
	got, err := Float64("PROPENSITY_ENV_FLOAT_MISSING", 0.25)
	if err != nil || got != 0.25 {
		t.Fatalf("Float64()=%v err=%v, want 0.25", got, err)
	}
	t.Setenv("PROPENSITY_ENV_FLOAT", " 0.05 ")
	got, err = Float64("PROPENSITY_ENV_FLOAT", 0.25)
	if err != nil || got != 0.05 {
		t.Fatalf("Float64()=%v err=%v, want 0.05", got, err)
	}
	t.Setenv("PROPENSITY_ENV_FLOAT_BAD", "five")
	if _, err := Float64("PROPENSITY_ENV_FLOAT_BAD", 0); err == nil {
		t.Fatalf("Float64() expected error")
	}
}
