package patterns

import (
	"fmt"
	"strings"
)

// Placeholder names substituted in templates, written as {{name}}.
const (
	PlaceholderCode         = "code"
	PlaceholderDetectType   = "detect_type"
	PlaceholderClaimedType  = "claimed_type"
	PlaceholderWarningItems = "warning_items"
)

var placeholders = map[string]bool{
	PlaceholderCode:         true,
	PlaceholderDetectType:   true,
	PlaceholderClaimedType:  true,
	PlaceholderWarningItems: true,
}

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Template is a syntax-checked message template.
type Template struct {
	raw  string
	uses []string
}

// ParseTemplate checks placeholder syntax: every {{ must close with }}
// before another {{ opens, names are non-empty, and no }} may appear without
// a matching {{. Names outside the known set are accepted and render
// verbatim.
func ParseTemplate(raw string) (Template, error) {
	t := Template{raw: raw}
	rest := raw
	offset := 0
	for {
		open := strings.Index(rest, openDelim)
		closing := strings.Index(rest, closeDelim)
		if open < 0 {
			if closing >= 0 {
				return Template{}, fmt.Errorf("unmatched %q at offset %d", closeDelim, offset+closing)
			}
			return t, nil
		}
		if closing >= 0 && closing < open {
			return Template{}, fmt.Errorf("unmatched %q at offset %d", closeDelim, offset+closing)
		}

		body := rest[open+len(openDelim):]
		end := strings.Index(body, closeDelim)
		if end < 0 {
			return Template{}, fmt.Errorf("unclosed %q at offset %d", openDelim, offset+open)
		}
		name := body[:end]
		if strings.Contains(name, openDelim) {
			return Template{}, fmt.Errorf("nested placeholder at offset %d", offset+open)
		}
		if name == "" {
			return Template{}, fmt.Errorf("empty placeholder at offset %d", offset+open)
		}
		t.uses = append(t.uses, name)

		consumed := open + len(openDelim) + end + len(closeDelim)
		rest = rest[consumed:]
		offset += consumed
	}
}

// MustParseTemplate is ParseTemplate that panics on error.
func MustParseTemplate(raw string) Template {
	t, err := ParseTemplate(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source.
func (t Template) String() string { return t.raw }

// Placeholders lists the placeholder names used, in order of appearance.
func (t Template) Placeholders() []string {
	out := make([]string, len(t.uses))
	copy(out, t.uses)
	return out
}

// Unknown lists the placeholder names that are not substituted, once each.
func (t Template) Unknown() []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range t.uses {
		if placeholders[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Values are the substitutions for one rendering.
type Values struct {
	Code         string
	DetectType   string
	ClaimedType  string
	WarningItems string
}

// Execute substitutes known placeholders. Anything else, including
// malformed or unknown placeholders, is left verbatim.
func (t Template) Execute(v Values) string {
	return substitute(t.raw, v)
}

func substitute(raw string, v Values) string {
	return strings.NewReplacer(
		openDelim+PlaceholderCode+closeDelim, v.Code,
		openDelim+PlaceholderDetectType+closeDelim, v.DetectType,
		openDelim+PlaceholderClaimedType+closeDelim, v.ClaimedType,
		openDelim+PlaceholderWarningItems+closeDelim, v.WarningItems,
	).Replace(raw)
}
