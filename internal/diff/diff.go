// Package diff renders line differences between file texts and trees.
package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ianbruene/go-difflib/difflib"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
	// MissingNewline records, per side, that the text did not end in a newline.
	MissingNewline [2]bool
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

func splitLines(content []byte) ([]string, bool) {
	if len(content) == 0 {
		return nil, false
	}
	missing := !bytes.HasSuffix(content, []byte{'\n'})
	text := strings.TrimSuffix(string(content), "\n")
	return strings.Split(text, "\n"), missing
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) (*DiffResult, error) {
	oldLines, oldMissing := splitLines(oldContent)
	newLines, newMissing := splitLines(newContent)

	result := &DiffResult{MissingNewline: [2]bool{oldMissing, newMissing}}
	if bytes.Equal(oldContent, newContent) {
		return result, nil
	}

	matcher := difflib.NewMatcher(oldLines, newLines)
	for _, group := range matcher.GetGroupedOpCodes(e.contextLines) {
		first, last := group[0], group[len(group)-1]
		hunk := Hunk{
			OldStart: hunkStart(first.I1, last.I2-first.I1),
			OldLines: last.I2 - first.I1,
			NewStart: hunkStart(first.J1, last.J2-first.J1),
			NewLines: last.J2 - first.J1,
		}
		for _, op := range group {
			switch op.Tag {
			case 'e':
				for i := op.I1; i < op.I2; i++ {
					j := op.J1 + (i - op.I1)
					hunk.Lines = append(hunk.Lines, Line{Type: Context, Content: oldLines[i], OldNum: i + 1, NewNum: j + 1})
				}
			case 'r', 'd', 'i':
				for i := op.I1; i < op.I2; i++ {
					hunk.Lines = append(hunk.Lines, Line{Type: Deletion, Content: oldLines[i], OldNum: i + 1})
					result.Stats.Deletions++
				}
				for j := op.J1; j < op.J2; j++ {
					hunk.Lines = append(hunk.Lines, Line{Type: Addition, Content: newLines[j], NewNum: j + 1})
					result.Stats.Additions++
				}
			}
		}
		result.Hunks = append(result.Hunks, hunk)
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result, nil
}

// hunkStart follows the unified format: 1-based, or the preceding line
// number when the range is empty.
func hunkStart(index, length int) int {
	if length == 0 {
		return index
	}
	return index + 1
}

func hunkRange(start, length int) string {
	if length == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, length)
}

// Format returns the hunks in unified diff form.
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for h, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%s +%s @@\n",
			hunkRange(hunk.OldStart, hunk.OldLines),
			hunkRange(hunk.NewStart, hunk.NewLines))

		last := h == len(r.Hunks)-1
		for i, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+")
			case Deletion:
				buf.WriteString("-")
			case Context:
				buf.WriteString(" ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
			if last && r.noNewlineAfter(hunk, i) {
				buf.WriteString("\\ No newline at end of file\n")
			}
		}
	}

	return buf.String()
}

// noNewlineAfter reports whether line i of the final hunk is the last line
// of a side whose text had no trailing newline.
func (r *DiffResult) noNewlineAfter(hunk Hunk, i int) bool {
	line := hunk.Lines[i]
	oldEnd := hunk.OldStart + hunk.OldLines - 1
	newEnd := hunk.NewStart + hunk.NewLines - 1
	if hunk.OldLines == 0 {
		oldEnd = -1
	}
	if hunk.NewLines == 0 {
		newEnd = -1
	}
	switch line.Type {
	case Deletion:
		return r.MissingNewline[0] && line.OldNum == oldEnd
	case Addition:
		return r.MissingNewline[1] && line.NewNum == newEnd
	default:
		return (r.MissingNewline[0] && line.OldNum == oldEnd) || (r.MissingNewline[1] && line.NewNum == newEnd)
	}
}

// Unified renders a complete unified diff with file labels, or "" when the
// contents are identical.
func Unified(oldLabel, newLabel string, oldContent, newContent []byte, contextLines int) (string, error) {
	if bytes.Equal(oldContent, newContent) {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: oldLabel,
		ToFile:   newLabel,
		Context:  contextLines,
	})
}

// IsBinary guesses whether content is not text.
func IsBinary(content []byte) bool {
	n := len(content)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(content[:n], 0) >= 0
}
