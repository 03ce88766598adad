package linker

import (
	"bufio"
	"bytes"
	"regexp"
	"slices"
)

var exportMarker = regexp.MustCompile(`^\s*//\s*@export\s+([A-Za-z_$][\w$]*)\s*$`)

// ExportMarkers returns the names marked with "// @export Name" comment
// lines, sorted and de-duplicated. Compilers use the markers to decide
// which package variables are exported.
func ExportMarkers(source []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(source))
	sc.Buffer(make([]byte, 0, 64*1024), len(source)+1)
	for sc.Scan() {
		if m := exportMarker.FindSubmatch(sc.Bytes()); m != nil {
			out = append(out, string(m[1]))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
