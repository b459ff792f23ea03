package env

import "testing"

func TestGetFallsBack(t *testing.T) {
	t.Setenv("CREDITSHARE_TEST_VALUE", "  ")
	if got := Get("CREDITSHARE_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for blank value, got %q", got)
	}
	t.Setenv("CREDITSHARE_TEST_VALUE", "set")
	if got := Get("CREDITSHARE_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("CREDITSHARE_TEST_FLAG", "true")
	if !Bool("CREDITSHARE_TEST_FLAG", false) {
		t.Fatal("expected true")
	}
	t.Setenv("CREDITSHARE_TEST_FLAG", "nope")
	if Bool("CREDITSHARE_TEST_FLAG", false) {
		t.Fatal("malformed flag should fall back to false")
	}
}
