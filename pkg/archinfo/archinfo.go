// Package archinfo matches architecture tags.
//
// An architecture tag is a dot-separated string such as "os.linux.x86_64" or
// "web.browser". A host tag matches a program tag when the program tag is the
// host tag or one of its dot-separated prefixes, so a unit built for "os"
// runs on "os.linux.x86_64" but not the other way around.
package archinfo

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrNoCompatibleArch is returned when no candidate matches the host tag.
var ErrNoCompatibleArch = errors.New("no compatible architecture")

// ErrAmbiguousArch is returned when two candidates are equally specific.
var ErrAmbiguousArch = errors.New("ambiguous architecture match")

// Well-known architecture families.
const (
	OS      = "os"
	Web     = "web"
	Browser = "web.browser"
)

// Matches reports whether a program built for program can run on host.
func Matches(host, program string) bool {
	if host == program {
		return true
	}
	return strings.HasPrefix(host, program) && host[len(program)] == '.'
}

// MostSpecificMatch returns the longest entry of programs that matches host.
// It returns ErrNoCompatibleArch if nothing matches and ErrAmbiguousArch if
// programs holds the winning tag twice.
func MostSpecificMatch(host string, programs []string) (string, error) {
	best := ""
	found := false
	for _, p := range programs {
		if Matches(host, p) && (!found || len(p) > len(best)) {
			best, found = p, true
		}
	}
	if !found {
		return "", fmt.Errorf("%w: %q among %v", ErrNoCompatibleArch, host, programs)
	}
	if n := countOf(programs, best); n > 1 {
		return "", fmt.Errorf("%w: %q listed %d times", ErrAmbiguousArch, best, n)
	}
	return best, nil
}

// IsBrowser reports whether arch is a browser architecture. Browser units
// may emit head/body markup and get source maps for linked code.
func IsBrowser(arch string) bool {
	return Matches(arch, Web) || Matches(arch, "browser")
}

// Host returns the tag for the machine forge is running on. Build-time
// tooling such as extension handlers always runs at this architecture.
func Host() string {
	return hostFor(runtime.GOOS, runtime.GOARCH)
}

func hostFor(goos, goarch string) string {
	platform := goos
	if goos == "darwin" {
		platform = "osx"
	}

	machine := goarch
	switch goarch {
	case "amd64":
		machine = "x86_64"
	case "386":
		machine = "x86_32"
	}
	return OS + "." + platform + "." + machine
}

func countOf(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}
