package version

import (
	"strings"
	"testing"
)

func TestCurrent(t *testing.T) {
	build := Current()

	if build.Number == "" || build.Commit == "" || build.BuiltAt == "" {
		t.Fatalf("build info must not have empty fields: %+v", build)
	}
	if build.Number != number {
		t.Fatalf("Current().Number = %s, want %s", build.Number, number)
	}
}

func TestString(t *testing.T) {
	s := String()

	for _, part := range []string{"version=", "commit=", "built="} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
	if !strings.Contains(s, Current().Number) {
		t.Errorf("String() = %q, missing build number", s)
	}
}
