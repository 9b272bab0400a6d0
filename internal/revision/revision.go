// Package revision defines the immutable revision record and its encodings.
package revision

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"arbor/internal/errors"

	"github.com/google/uuid"
)

// Revision is one commit in history. Once stored it is never mutated.
type Revision struct {
	ID            string            `json:"revision_id"`
	ParentIDs     []string          `json:"parent_ids"`
	Committer     string            `json:"committer"`
	Message       string            `json:"message"`
	Timestamp     float64           `json:"timestamp"`
	Timezone      int               `json:"timezone"`
	Properties    map[string]string `json:"properties,omitempty"`
	InventorySha1 string            `json:"inventory_sha1"`
}

// Time returns the commit time in the committer's recorded offset.
func (r *Revision) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	t := time.Unix(int64(sec), int64(math.Round(frac*1e3))*int64(time.Millisecond))
	return t.In(time.FixedZone("", r.Timezone))
}

// LeftParent returns the first parent, or Null for a root revision.
func (r *Revision) LeftParent() string {
	if len(r.ParentIDs) == 0 {
		return Null
	}
	return r.ParentIDs[0]
}

// Summary is the first line of the message.
func (r *Revision) Summary() string {
	line, _, _ := strings.Cut(strings.TrimSpace(r.Message), "\n")
	return line
}

func (r *Revision) Validate() error {
	if IsNull(r.ID) {
		return errors.ValidationError("revision id is required", nil)
	}
	if strings.ContainsAny(r.ID, " \t\n\x00") {
		return errors.ValidationError("revision id contains whitespace", map[string]interface{}{"revision_id": r.ID})
	}
	seen := make(map[string]bool, len(r.ParentIDs))
	for _, p := range r.ParentIDs {
		if IsNull(p) {
			return errors.ValidationError("null revision listed as a parent", map[string]interface{}{"revision_id": r.ID})
		}
		if p == r.ID {
			return errors.ValidationError("revision lists itself as a parent", map[string]interface{}{"revision_id": r.ID})
		}
		if seen[p] {
			return errors.ValidationError("duplicate parent", map[string]interface{}{"revision_id": r.ID, "parent": p})
		}
		seen[p] = true
	}
	if r.InventorySha1 == "" {
		return errors.ValidationError("inventory sha1 is required", map[string]interface{}{"revision_id": r.ID})
	}
	return nil
}

func (r *Revision) Serialize() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("serializing revision %s: %w", r.ID, err)
	}
	return data, nil
}

func Deserialize(data []byte) (*Revision, error) {
	var r Revision
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("deserializing revision: %w", err)
	}
	if r.ParentIDs == nil {
		r.ParentIDs = []string{}
	}
	return &r, nil
}

// CanonicalText is the stable plaintext that gets signed.
func (r *Revision) CanonicalText() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "revision-id: %s\n", r.ID)
	fmt.Fprintf(&b, "committer: %s\n", r.Committer)
	fmt.Fprintf(&b, "timestamp: %.3f\n", r.Timestamp)
	fmt.Fprintf(&b, "timezone: %d\n", r.Timezone)
	b.WriteString("parents:\n")
	for _, p := range r.ParentIDs {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	fmt.Fprintf(&b, "inventory-sha1: %s\n", r.InventorySha1)
	if len(r.Properties) > 0 {
		b.WriteString("properties:\n")
		names := make([]string, 0, len(r.Properties))
		for name := range r.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s:\n", name)
			for _, line := range strings.Split(r.Properties[name], "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	b.WriteString("message:\n")
	for _, line := range strings.Split(r.Message, "\n") {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return []byte(b.String())
}

// RoundTimestamp converts t to seconds since the epoch at millisecond
// resolution.
func RoundTimestamp(t time.Time) float64 {
	return float64(t.Round(time.Millisecond).UnixMilli()) / 1e3
}

// LocalOffset is the UTC offset in seconds of t's location.
func LocalOffset(t time.Time) int {
	_, offset := t.Zone()
	return offset
}

var emailPattern = regexp.MustCompile(`<([^>]+)>`)
var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9@._+\-]`)

// GenerateID builds a fresh random revision id from the committer identity,
// the commit time, and a random salt.
func GenerateID(committer string, t time.Time) string {
	who := strings.TrimSpace(committer)
	if m := emailPattern.FindStringSubmatch(who); m != nil {
		who = m[1]
	}
	who = unsafeIDChars.ReplaceAllString(who, "_")
	if who == "" {
		who = "unknown"
	}
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(who), t.UTC().Format("20060102150405"), salt)
}
