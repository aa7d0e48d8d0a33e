// Package mdsync keeps a human-editable markdown view of the store in
// step with the store itself, detecting and resolving drift between the
// two representations.
package mdsync

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/basket/taskhold/internal/store"
)

// Codec is the pluggable serializer pair: a pure render from store state
// to text and its inverse. The sync engine depends only on this contract.
type Codec struct {
	Render func(root *store.Root) ([]byte, error)
	Parse  func(data []byte) (*store.Root, error)
}

// MarkdownCodec renders the default TASKS.md format: one heading per
// section, one checkbox line per task with an id trailer, optional
// blockquote description lines.
func MarkdownCodec() Codec {
	return Codec{Render: renderMarkdown, Parse: parseMarkdown}
}

func renderMarkdown(root *store.Root) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("# TASKS\n")
	for _, sec := range root.Sections {
		b.WriteString("\n## " + sec.Name + "\n\n")
		for _, id := range sec.TaskIDs {
			t, ok := root.Tasks[id]
			if !ok || t.Archived {
				continue
			}
			box := " "
			if t.Status == store.StatusCompleted {
				box = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s <!-- id:%s priority:%s -->\n", box, t.Title, t.ID, t.Priority)
			for _, line := range strings.Split(t.Description, "\n") {
				if line == "" {
					continue
				}
				b.WriteString("  > " + line + "\n")
			}
		}
	}
	return b.Bytes(), nil
}

var (
	sectionRe = regexp.MustCompile(`^##\s+(.+?)\s*$`)
	taskRe    = regexp.MustCompile(`^-\s+\[( |x|X)\]\s+(.*?)(?:\s*<!--\s*id:(\S+)(?:\s+priority:(\S+))?\s*-->)?\s*$`)
	descRe    = regexp.MustCompile(`^\s+>\s?(.*)$`)
)

// parseMarkdown is the inverse of renderMarkdown. It tolerates hand edits:
// missing id trailers, flipped checkboxes, reworded titles and added
// description lines all survive the round trip.
func parseMarkdown(data []byte) (*store.Root, error) {
	root := store.NewRoot()
	var section string
	var current *store.Task

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			section = strings.ToLower(strings.TrimSpace(m[1]))
			current = nil
			continue
		}
		if m := taskRe.FindStringSubmatch(line); m != nil {
			status := statusForSection(section)
			if strings.EqualFold(m[1], "x") {
				status = store.StatusCompleted
			}
			t := &store.Task{
				ID:       m[3],
				Title:    strings.TrimSpace(m[2]),
				Status:   status,
				Priority: store.Priority(m[4]),
				Version:  1,
			}
			if t.Priority == "" {
				t.Priority = store.PriorityMedium
			}
			if !store.ValidPriority(t.Priority) {
				return nil, fmt.Errorf("line %d: unknown priority %q", lineNo, t.Priority)
			}
			if t.Title == "" {
				return nil, fmt.Errorf("line %d: task with empty title", lineNo)
			}
			key := t.ID
			if key == "" {
				// Positional key for tasks added by hand without an id.
				key = fmt.Sprintf("@%s/%d", section, len(root.Section(string(t.Status)).TaskIDs))
			}
			root.Tasks[key] = t
			sec := root.EnsureSection(string(t.Status))
			sec.TaskIDs = append(sec.TaskIDs, key)
			current = t
			continue
		}
		if m := descRe.FindStringSubmatch(line); m != nil && current != nil {
			if current.Description != "" {
				current.Description += "\n"
			}
			current.Description += m[1]
			continue
		}
		if strings.TrimSpace(line) == "" {
			current = nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan markdown: %w", err)
	}
	root.RecomputeMeta()
	return root, nil
}

func statusForSection(name string) store.Status {
	s := store.Status(name)
	if store.ValidStatus(s) {
		return s
	}
	return store.StatusPending
}
