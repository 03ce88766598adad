// Package buildmsg collects recoverable build problems.
//
// Problems attributable to one source file or dependency (a missing
// dependency, a handler conflict, a parse error reported by a handler) are
// recorded into a Messages value and the build carries on with the input
// skipped. The batch is reported at the end, and a build with any messages is
// never cached.
package buildmsg

import (
	"fmt"
	"slices"
	"strings"
)

// Message is a single build problem.
type Message struct {
	Job    string `json:"job,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Text   string `json:"message"`
}

// String formats the message as file:line:col: text.
func (m Message) String() string {
	var b strings.Builder
	if m.File != "" {
		b.WriteString(m.File)
		if m.Line > 0 {
			fmt.Fprintf(&b, ":%d", m.Line)
			if m.Column > 0 {
				fmt.Fprintf(&b, ":%d", m.Column)
			}
		}
		b.WriteString(": ")
	}
	b.WriteString(m.Text)
	return b.String()
}

// Option sets location details on a message.
type Option func(*Message)

// File sets the source file of a message.
func File(path string) Option {
	return func(m *Message) { m.File = path }
}

// Pos sets the 1-based line and column of a message.
func Pos(line, column int) Option {
	return func(m *Message) {
		m.Line = line
		m.Column = column
	}
}

// Messages accumulates build problems. The zero value is ready to use, and
// a nil *Messages discards everything.
type Messages struct {
	job  string
	list []Message
}

// New returns an empty collection labelled with the job being performed,
// e.g. "building package util".
func New(job string) *Messages {
	return &Messages{job: job}
}

// Errorf records a problem.
func (m *Messages) Errorf(opts []Option, format string, args ...any) {
	if m == nil {
		return
	}
	msg := Message{Job: m.job, Text: fmt.Sprintf(format, args...)}
	for _, opt := range opts {
		opt(&msg)
	}
	m.list = append(m.list, msg)
}

// Error records a problem with no location.
func (m *Messages) Error(format string, args ...any) {
	m.Errorf(nil, format, args...)
}

// Add records already-built messages, e.g. the ones an extension handler
// reported. Messages without a job inherit this collection's job.
func (m *Messages) Add(msgs ...Message) {
	if m == nil {
		return
	}
	for _, msg := range msgs {
		if msg.Job == "" {
			msg.Job = m.job
		}
		m.list = append(m.list, msg)
	}
}

// Merge appends every message of other.
func (m *Messages) Merge(other *Messages) {
	if m == nil || other == nil {
		return
	}
	m.list = append(m.list, other.list...)
}

// HasMessages reports whether anything was recorded.
func (m *Messages) HasMessages() bool {
	return m != nil && len(m.list) > 0
}

// Len returns the number of recorded messages.
func (m *Messages) Len() int {
	if m == nil {
		return 0
	}
	return len(m.list)
}

// List returns a copy of the recorded messages in recording order.
func (m *Messages) List() []Message {
	if m == nil {
		return nil
	}
	return slices.Clone(m.list)
}

// Format renders the messages as one batch, grouped by job.
func (m *Messages) Format() string {
	if !m.HasMessages() {
		return ""
	}
	var b strings.Builder
	lastJob := "\x00"
	for _, msg := range m.list {
		if msg.Job != lastJob {
			if msg.Job != "" {
				fmt.Fprintf(&b, "While %s:\n", msg.Job)
			}
			lastJob = msg.Job
		}
		if msg.Job != "" {
			b.WriteString("  ")
		}
		b.WriteString(msg.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Err returns nil when no messages were recorded and a *BatchError otherwise.
func (m *Messages) Err() error {
	if !m.HasMessages() {
		return nil
	}
	return &BatchError{Messages: m.List()}
}

// BatchError carries a finished batch of build messages as an error.
type BatchError struct {
	Messages []Message
}

func (e *BatchError) Error() string {
	if e == nil || len(e.Messages) == 0 {
		return "build failed"
	}
	if len(e.Messages) == 1 {
		return e.Messages[0].String()
	}
	return fmt.Sprintf("%s (and %d more errors)", e.Messages[0].String(), len(e.Messages)-1)
}
