package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("CAREPIPE_TEST_BOOL", "Yes")
	if !ParseBoolEnv("CAREPIPE_TEST_BOOL", false) {
		t.Error("expected true for Yes")
	}
	t.Setenv("CAREPIPE_TEST_BOOL", "maybe")
	if ParseBoolEnv("CAREPIPE_TEST_BOOL", false) {
		t.Error("expected default for invalid value")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("CAREPIPE_TEST_INT", " 15 ")
	if got := ParseIntEnv("CAREPIPE_TEST_INT", 3); got != 15 {
		t.Errorf("expected 15, got %d", got)
	}
	t.Setenv("CAREPIPE_TEST_INT", "lots")
	if got := ParseIntEnv("CAREPIPE_TEST_INT", 3); got != 3 {
		t.Errorf("expected default 3, got %d", got)
	}
	if got := ParseIntEnv("CAREPIPE_TEST_UNSET_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("CAREPIPE_TEST_FLOAT", "0.3")
	if got := ParseFloatEnv("CAREPIPE_TEST_FLOAT", 1); got != 0.3 {
		t.Errorf("expected 0.3, got %v", got)
	}
	t.Setenv("CAREPIPE_TEST_FLOAT", "warm")
	if got := ParseFloatEnv("CAREPIPE_TEST_FLOAT", 0.4); got != 0.4 {
		t.Errorf("expected default 0.4, got %v", got)
	}
}
