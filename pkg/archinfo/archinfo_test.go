package archinfo

import (
	"errors"
	"testing"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		host    string
		program string
		want    bool
	}{
		{"os.linux.x86_64", "os", true},
		{"os.linux.x86_64", "os.linux", true},
		{"os.linux.x86_64", "os.linux.x86_64", true},
		{"os", "os.linux", false},
		{"os.linux.x86_64", "os.lin", false},
		{"osx", "os", false},
		{"web.browser", "web", true},
		{"web.browser", "os", false},
	}

	for _, tt := range tests {
		if got := Matches(tt.host, tt.program); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.host, tt.program, got, tt.want)
		}
	}
}

func TestMostSpecificMatch(t *testing.T) {
	got, err := MostSpecificMatch("os.linux.x86_64", []string{"os", "web.browser", "os.linux"})
	if err != nil {
		t.Fatalf("MostSpecificMatch() error = %v", err)
	}
	if got != "os.linux" {
		t.Errorf("MostSpecificMatch() = %q, want %q", got, "os.linux")
	}
}

func TestMostSpecificMatchNone(t *testing.T) {
	_, err := MostSpecificMatch("web.browser", []string{"os", "os.linux"})
	if !errors.Is(err, ErrNoCompatibleArch) {
		t.Errorf("expected ErrNoCompatibleArch, got %v", err)
	}
}

func TestMostSpecificMatchDuplicate(t *testing.T) {
	_, err := MostSpecificMatch("os.linux", []string{"os", "os"})
	if !errors.Is(err, ErrAmbiguousArch) {
		t.Errorf("expected ErrAmbiguousArch, got %v", err)
	}

	// A duplicated tag that a longer tag outranks is not ambiguous.
	got, err := MostSpecificMatch("os.linux.x86_64", []string{"os", "os", "os.linux"})
	if err != nil || got != "os.linux" {
		t.Errorf("MostSpecificMatch = %q, %v; want os.linux", got, err)
	}
	_, err = MostSpecificMatch("os.linux.x86_64", []string{"os.linux", "os", "os.linux"})
	if !errors.Is(err, ErrAmbiguousArch) {
		t.Errorf("expected ErrAmbiguousArch for a duplicated winner, got %v", err)
	}
}

func TestIsBrowser(t *testing.T) {
	if !IsBrowser(Browser) {
		t.Error("web.browser should be a browser architecture")
	}
	if !IsBrowser("browser") {
		t.Error("browser should be a browser architecture")
	}
	if IsBrowser("os.linux.x86_64") {
		t.Error("os.linux.x86_64 should not be a browser architecture")
	}
}

func TestHostFor(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
	}{
		{"linux", "amd64", "os.linux.x86_64"},
		{"linux", "386", "os.linux.x86_32"},
		{"darwin", "arm64", "os.osx.arm64"},
		{"windows", "amd64", "os.windows.x86_64"},
	}
	for _, tt := range tests {
		if got := hostFor(tt.goos, tt.goarch); got != tt.want {
			t.Errorf("hostFor(%q, %q) = %q, want %q", tt.goos, tt.goarch, got, tt.want)
		}
	}
	if !Matches(Host(), OS) {
		t.Errorf("Host() = %q should match %q", Host(), OS)
	}
}
