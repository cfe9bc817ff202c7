package patterns

import (
	"strconv"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// Message is a rendered response for one verdict.
type Message struct {
	Code      audit.Code `json:"code"`
	Text      string     `json:"text"`
	PatternID int64      `json:"pattern_id,omitempty"`
	Default   bool       `json:"default"`
}

// Engine renders verdict messages. It holds no mutable state.
type Engine struct {
	catalog  *materials.Catalog
	defaults *Defaults
}

// NewEngine creates an engine. Nil arguments select the default catalog and
// the built-in templates.
func NewEngine(catalog *materials.Catalog, defaults *Defaults) *Engine {
	if catalog == nil {
		catalog = materials.Default()
	}
	if defaults == nil {
		defaults = BuiltinDefaults()
	}
	return &Engine{catalog: catalog, defaults: defaults}
}

// Render picks the first pattern in set matching v's code, or the built-in
// default when none does, and substitutes the verdict's values. A nil set
// behaves as an empty one.
func (e *Engine) Render(set *Set, v audit.MaterialVerdict, lang string) Message {
	values := e.Values(v, lang)
	if c, ok := set.Match(v.Code); ok {
		return Message{
			Code:      v.Code,
			Text:      c.Template.Execute(values),
			PatternID: c.Pattern.ID,
		}
	}
	return Message{
		Code:    v.Code,
		Text:    e.defaults.Template(v.Code, materials.Locale(lang)).Execute(values),
		Default: true,
	}
}

// Values computes the placeholder substitutions for v.
func (e *Engine) Values(v audit.MaterialVerdict, lang string) Values {
	return Values{
		Code:         string(v.Code),
		DetectType:   materials.Label(e.keyForDetected(v.DetectedTypeID), lang),
		ClaimedType:  materials.Label(e.keyForID(v.ClaimedTypeID), lang),
		WarningItems: materials.Join(v.WrongItems, lang),
	}
}

func (e *Engine) keyForID(id int) materials.Key {
	if m, ok := e.catalog.ByID(id); ok {
		return m.Key
	}
	return materials.Unknown
}

func (e *Engine) keyForDetected(dt string) materials.Key {
	id, err := strconv.Atoi(dt)
	if err != nil {
		return materials.Unknown
	}
	return e.keyForID(id)
}
