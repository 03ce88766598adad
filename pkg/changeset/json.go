package changeset

import (
	"encoding/json"
	"fmt"
)

type changeSetJSON struct {
	AlwaysFire  bool               `json:"alwaysFire,omitempty"`
	Files       map[string]*string `json:"files,omitempty"`
	Directories []directoryJSON    `json:"directories,omitempty"`
}

type directoryJSON struct {
	Path      string    `json:"absPath"`
	Include   []Pattern `json:"include"`
	Exclude   []Pattern `json:"exclude"`
	Contents  []string  `json:"contents"`
	Recursive bool      `json:"recursive,omitempty"`
}

// MarshalJSON encodes the set. Absent files are written as null, and an
// AlwaysFire set is written as {"alwaysFire": true} alone.
func (cs *ChangeSet) MarshalJSON() ([]byte, error) {
	if cs == nil {
		return []byte("null"), nil
	}
	if cs.AlwaysFire {
		return json.Marshal(changeSetJSON{AlwaysFire: true})
	}

	out := changeSetJSON{
		Files:       make(map[string]*string, len(cs.Files)),
		Directories: make([]directoryJSON, 0, len(cs.Directories)),
	}
	for path, fp := range cs.Files {
		if fp == Absent {
			out.Files[path] = nil
			continue
		}
		out.Files[path] = &fp
	}
	for _, d := range cs.Directories {
		out.Directories = append(out.Directories, directoryJSON{
			Path:      d.Path,
			Include:   d.Include,
			Exclude:   d.Exclude,
			Contents:  d.Contents,
			Recursive: d.Recursive,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a set written by MarshalJSON.
func (cs *ChangeSet) UnmarshalJSON(data []byte) error {
	var in changeSetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to parse change set: %w", err)
	}

	*cs = ChangeSet{Files: make(map[string]string, len(in.Files))}
	if in.AlwaysFire {
		cs.AlwaysFire = true
		return nil
	}
	for path, fp := range in.Files {
		if fp == nil {
			cs.Files[path] = Absent
			continue
		}
		cs.Files[path] = *fp
	}
	for _, d := range in.Directories {
		cs.Directories = append(cs.Directories, Directory{
			Path:      d.Path,
			Include:   d.Include,
			Exclude:   d.Exclude,
			Contents:  d.Contents,
			Recursive: d.Recursive,
		})
	}
	return nil
}
