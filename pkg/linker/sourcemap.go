package linker

import (
	"encoding/json"
	"strings"
)

// SourceMap is a version 3 source map.
type SourceMap struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// ParseSourceMap decodes a JSON source map.
func ParseSourceMap(data string) (*SourceMap, error) {
	var m SourceMap
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// String encodes m as JSON.
func (m *SourceMap) String() string {
	data, err := json.Marshal(m)
	if err != nil {
		// Only strings and ints; cannot fail.
		panic(err)
	}
	return string(data)
}

// ShiftLines prepends n empty generated lines to the mappings.
func (m *SourceMap) ShiftLines(n int) {
	m.Mappings = strings.Repeat(";", n) + m.Mappings
}

type mapping struct {
	genCol   int
	source   int
	origLine int
	origCol  int
}

// mapBuilder accumulates line-granular mappings and encodes them.
type mapBuilder struct {
	file     string
	sources  []string
	contents []string
	lines    [][]mapping
}

func newMapBuilder(file string) *mapBuilder {
	return &mapBuilder{file: file}
}

func (b *mapBuilder) addSource(path, content string) int {
	b.sources = append(b.sources, path)
	b.contents = append(b.contents, content)
	return len(b.sources) - 1
}

// add maps generated (genLine, genCol) to (origLine, origCol) in source.
// All positions are 0-indexed.
func (b *mapBuilder) add(genLine, genCol, source, origLine, origCol int) {
	for len(b.lines) <= genLine {
		b.lines = append(b.lines, nil)
	}
	b.lines[genLine] = append(b.lines[genLine], mapping{genCol, source, origLine, origCol})
}

func (b *mapBuilder) empty() bool {
	return len(b.sources) == 0
}

func (b *mapBuilder) build() *SourceMap {
	var sb strings.Builder
	var prevSource, prevLine, prevCol int
	for i, line := range b.lines {
		if i > 0 {
			sb.WriteByte(';')
		}
		prevGenCol := 0
		for j, m := range line {
			if j > 0 {
				sb.WriteByte(',')
			}
			writeVLQ(&sb, m.genCol-prevGenCol)
			writeVLQ(&sb, m.source-prevSource)
			writeVLQ(&sb, m.origLine-prevLine)
			writeVLQ(&sb, m.origCol-prevCol)
			prevGenCol, prevSource, prevLine, prevCol = m.genCol, m.source, m.origLine, m.origCol
		}
	}
	return &SourceMap{
		Version:        3,
		File:           b.file,
		Sources:        b.sources,
		SourcesContent: b.contents,
		Names:          []string{},
		Mappings:       sb.String(),
	}
}

const base64Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// writeVLQ appends v as a base64 VLQ: sign in the lowest bit, five value
// bits per digit, continuation in bit six.
func writeVLQ(sb *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & 0x1f
		u >>= 5
		if u > 0 {
			digit |= 0x20
		}
		sb.WriteByte(base64Digits[digit])
		if u == 0 {
			return
		}
	}
}
