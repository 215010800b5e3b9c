package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/Chatter/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("CHATTER_TEST_STRING", "  hello ")
	if got := environment.StringOr("CHATTER_TEST_STRING", "fallback"); got != "hello" {
		t.Errorf("StringOr = %q, want %q", got, "hello")
	}
	t.Setenv("CHATTER_TEST_BLANK", "   ")
	if got := environment.StringOr("CHATTER_TEST_BLANK", "fallback"); got != "fallback" {
		t.Errorf("blank value: got %q, want fallback", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("CHATTER_TEST_REQUIRED", "value")
	if v, err := environment.RequiredString("CHATTER_TEST_REQUIRED"); err != nil || v != "value" {
		t.Fatalf("RequiredString = %q, %v", v, err)
	}
	if _, err := environment.RequiredString("CHATTER_TEST_REQUIRED_MISSING"); err == nil {
		t.Error("expected error for missing variable")
	}
}

func TestNumericHelpers(t *testing.T) {
	t.Setenv("CHATTER_TEST_INT", "42")
	t.Setenv("CHATTER_TEST_INT_BAD", "forty-two")
	t.Setenv("CHATTER_TEST_FLOAT", "0.7")
	t.Setenv("CHATTER_TEST_BOOL", "true")
	t.Setenv("CHATTER_TEST_DUR", "30s")

	if got := environment.IntOr("CHATTER_TEST_INT", 0); got != 42 {
		t.Errorf("IntOr = %d, want 42", got)
	}
	if got := environment.IntOr("CHATTER_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("IntOr with bad value = %d, want 7", got)
	}
	if got := environment.FloatOr("CHATTER_TEST_FLOAT", 1); got != 0.7 {
		t.Errorf("FloatOr = %v, want 0.7", got)
	}
	if got := environment.FloatOr("CHATTER_TEST_FLOAT_MISSING", 1.5); got != 1.5 {
		t.Errorf("FloatOr fallback = %v, want 1.5", got)
	}
	if !environment.BoolOr("CHATTER_TEST_BOOL", false) {
		t.Error("BoolOr = false, want true")
	}
	if got := environment.DurationOr("CHATTER_TEST_DUR", time.Minute); got != 30*time.Second {
		t.Errorf("DurationOr = %v, want 30s", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("CHATTER_TEST_SLICE", "!a:example.org, ,!b:example.org ")
	got := environment.StringSliceOr("CHATTER_TEST_SLICE", nil)
	if len(got) != 2 || got[0] != "!a:example.org" || got[1] != "!b:example.org" {
		t.Errorf("StringSliceOr = %v", got)
	}
	t.Setenv("CHATTER_TEST_SLICE_EMPTY", ",,")
	if got := environment.StringSliceOr("CHATTER_TEST_SLICE_EMPTY", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("expected fallback, got %v", got)
	}
}
