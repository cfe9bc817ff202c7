package patterns

import (
	_ "embed"
	"fmt"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults holds the built-in template for every code, per language.
type Defaults struct {
	templates map[language.Tag]map[audit.Code]Template
}

// LoadDefaults parses a defaults document: a map of language to a map of
// code to template. English must define every code.
func LoadDefaults(data []byte) (*Defaults, error) {
	var doc map[string]map[string]string
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse default templates: %w", err)
	}

	d := &Defaults{templates: make(map[language.Tag]map[audit.Code]Template, len(doc))}
	for lang, byCode := range doc {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("default templates: bad language %q: %w", lang, err)
		}
		tmpls := make(map[audit.Code]Template, len(byCode))
		for name, raw := range byCode {
			code, err := audit.ParseCode(name)
			if err != nil {
				return nil, fmt.Errorf("default templates [%s]: %w", lang, err)
			}
			t, err := ParseTemplate(raw)
			if err != nil {
				return nil, fmt.Errorf("default templates [%s/%s]: %w", lang, code, err)
			}
			if unknown := t.Unknown(); len(unknown) > 0 {
				return nil, fmt.Errorf("default templates [%s/%s]: unknown placeholder {{%s}}", lang, code, unknown[0])
			}
			tmpls[code] = t
		}
		d.templates[tag] = tmpls
	}

	for _, code := range audit.Codes() {
		if _, ok := d.templates[language.English][code]; !ok {
			return nil, fmt.Errorf("default templates: no English template for %s", code)
		}
	}
	return d, nil
}

// BuiltinDefaults returns the embedded default templates.
func BuiltinDefaults() *Defaults {
	d, err := LoadDefaults(defaultsYAML)
	if err != nil {
		panic(err)
	}
	return d
}

// Template returns the default for code in lang, falling back to English.
func (d *Defaults) Template(code audit.Code, lang language.Tag) Template {
	if t, ok := d.templates[lang][code]; ok {
		return t
	}
	return d.templates[language.English][code]
}
