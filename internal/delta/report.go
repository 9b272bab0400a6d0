package delta

import (
	"fmt"
	"io"
	"strings"

	"arbor/internal/inventory"
)

// ReportOptions controls how a TreeDelta is rendered.
type ReportOptions struct {
	// Short prefixes every line with a one-letter code instead of
	// grouping lines under category headers.
	Short   bool
	ShowIDs bool
	// Header, if set, decorates category headers (used for colour).
	Header func(string) string
}

const (
	codeAdded       = "A"
	codeRemoved     = "D"
	codeRenamed     = "R"
	codeKindChanged = "K"
	codeModified    = "M"
	codeUnchanged   = "S"
	codeUnknown     = " "
)

type reportLine struct {
	text   string
	fileID string
}

type section struct {
	header string
	code   string
	lines  []reportLine
}

func decorate(path string, kind inventory.Kind, meta bool) string {
	s := path + kind.Marker()
	if meta {
		s += "*"
	}
	return s
}

func (d *TreeDelta) sections() []section {
	items := func(list []Item) []reportLine {
		out := make([]reportLine, 0, len(list))
		for _, it := range list {
			out = append(out, reportLine{decorate(it.Path, it.Kind, it.MetaModified), it.FileID})
		}
		return out
	}

	renamed := make([]reportLine, 0, len(d.Renamed))
	for _, r := range d.Renamed {
		text := fmt.Sprintf("%s => %s", r.OldPath+r.Kind.Marker(), decorate(r.NewPath, r.Kind, r.MetaModified))
		renamed = append(renamed, reportLine{text, r.FileID})
	}
	kinds := make([]reportLine, 0, len(d.KindChanged))
	for _, k := range d.KindChanged {
		text := fmt.Sprintf("%s => %s", k.Path+k.OldKind.Marker(), k.Path+k.NewKind.Marker())
		kinds = append(kinds, reportLine{text, k.FileID})
	}

	return []section{
		{"added:", codeAdded, items(d.Added)},
		{"removed:", codeRemoved, items(d.Removed)},
		{"renamed:", codeRenamed, renamed},
		{"kind changed:", codeKindChanged, kinds},
		{"modified:", codeModified, items(d.Modified)},
		{"unchanged:", codeUnchanged, items(d.Unchanged)},
		{"unknown:", codeUnknown, items(d.Unversioned)},
	}
}

// Report writes d to w. Empty categories are omitted.
func (d *TreeDelta) Report(w io.Writer, opts ReportOptions) error {
	for _, s := range d.sections() {
		if len(s.lines) == 0 {
			continue
		}
		if !opts.Short {
			header := s.header
			if opts.Header != nil {
				header = opts.Header(header)
			}
			if _, err := fmt.Fprintln(w, header); err != nil {
				return err
			}
		}
		for _, l := range s.lines {
			text := l.text
			if opts.ShowIDs && l.fileID != "" {
				text += "  " + l.fileID
			}
			var err error
			if opts.Short {
				_, err = fmt.Fprintf(w, "%s  %s\n", s.code, text)
			} else {
				_, err = fmt.Fprintf(w, "  %s\n", text)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *TreeDelta) String() string {
	var b strings.Builder
	_ = d.Report(&b, ReportOptions{})
	return b.String()
}
