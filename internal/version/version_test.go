package version

import "testing"

func TestDevAndString(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "dev"
	if !Dev() {
		t.Fatalf("dev build not detected")
	}
	Version = "v1.4.2"
	if Dev() {
		t.Fatalf("stamped build reported as dev")
	}
	if got := String(); got != "1.4.2" {
		t.Fatalf("String() = %q", got)
	}
}
