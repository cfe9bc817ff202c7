// Package materials is the fixed waste-material catalog the audit engine
// works against: which materials exist, their external IDs, which are
// mandatory in every transaction and which are subject to contamination rules.
package materials

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a material category.
type Key string

const (
	General    Key = "general"
	Organic    Key = "organic"
	Recyclable Key = "recyclable"
	Hazardous  Key = "hazardous"

	// Unknown is used when the detected type could not be determined.
	Unknown Key = ""
)

// UnknownID is the wire value for an undetermined material.
const UnknownID = 0

// Material describes one catalog entry.
type Material struct {
	Key                  Key
	ID                   int
	Mandatory            bool
	ContaminationChecked bool
}

// Catalog is an immutable, ordered set of materials.
type Catalog struct {
	order []Material
	byKey map[Key]Material
	byID  map[int]Material
}

// New builds a catalog from materials in their declared order.
func New(ms ...Material) (*Catalog, error) {
	c := &Catalog{
		order: make([]Material, 0, len(ms)),
		byKey: make(map[Key]Material, len(ms)),
		byID:  make(map[int]Material, len(ms)),
	}
	for _, m := range ms {
		if m.Key == Unknown || m.ID == UnknownID {
			return nil, fmt.Errorf("material %q: key and id are required", m.Key)
		}
		if _, dup := c.byKey[m.Key]; dup {
			return nil, fmt.Errorf("duplicate material key %q", m.Key)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate material id %d", m.ID)
		}
		c.order = append(c.order, m)
		c.byKey[m.Key] = m
		c.byID[m.ID] = m
	}
	return c, nil
}

var defaultCatalog = mustNew(
	Material{Key: General, ID: 94, Mandatory: true, ContaminationChecked: false},
	Material{Key: Organic, ID: 77, Mandatory: true, ContaminationChecked: false},
	Material{Key: Recyclable, ID: 298, Mandatory: true, ContaminationChecked: true},
	Material{Key: Hazardous, ID: 113, Mandatory: false, ContaminationChecked: true},
)

func mustNew(ms ...Material) *Catalog {
	c, err := New(ms...)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the process-wide reference catalog.
func Default() *Catalog {
	return defaultCatalog
}

// All returns every material in declared order.
func (c *Catalog) All() []Material {
	out := make([]Material, len(c.order))
	copy(out, c.order)
	return out
}

// Keys returns every material key in declared order.
func (c *Catalog) Keys() []Key {
	keys := make([]Key, len(c.order))
	for i, m := range c.order {
		keys[i] = m.Key
	}
	return keys
}

// Mandatory returns the keys of mandatory materials in declared order.
func (c *Catalog) Mandatory() []Key {
	var keys []Key
	for _, m := range c.order {
		if m.Mandatory {
			keys = append(keys, m.Key)
		}
	}
	return keys
}

// Lookup returns the material for key.
func (c *Catalog) Lookup(key Key) (Material, bool) {
	m, ok := c.byKey[key]
	return m, ok
}

// ByID returns the material with the given external ID.
func (c *Catalog) ByID(id int) (Material, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Index returns the declared position of key, or -1.
func (c *Catalog) Index(key Key) int {
	for i, m := range c.order {
		if m.Key == key {
			return i
		}
	}
	return -1
}

// ParseKey resolves a key name, a numeric ID, or a localized label.
func (c *Catalog) ParseKey(s string) (Key, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown, false
	}
	if m, ok := c.byKey[Key(strings.ToLower(s))]; ok {
		return m.Key, true
	}
	if id, err := strconv.Atoi(s); err == nil {
		if m, ok := c.byID[id]; ok {
			return m.Key, true
		}
		return Unknown, false
	}
	if k, ok := keyForLabel(s); ok {
		if _, known := c.byKey[k]; known {
			return k, true
		}
	}
	return Unknown, false
}

// IDString returns the wire string for key: its numeric ID, or "0" when the
// key is unknown to the catalog.
func (c *Catalog) IDString(key Key) string {
	if m, ok := c.byKey[key]; ok {
		return strconv.Itoa(m.ID)
	}
	return strconv.Itoa(UnknownID)
}
