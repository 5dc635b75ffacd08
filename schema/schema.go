// Package schema describes the structure of JSON values accepted and
// produced by entrypoints, and validates decoded values against it.
//
// A Schema is built once, at registration time, through the builder
// functions in this package and is treated as immutable afterwards.
package schema

import "sort"

// Type is the JSON type a schema node accepts.
type Type int

const (
	TypeWildcard Type = iota
	TypeNull
	TypeBoolean
	TypeInteger
	TypeNumber
	TypeString
	TypeArray
	TypeObject
	TypeOneOf
)

// String returns the JSON type name used in validation messages.
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	case TypeOneOf:
		return "oneOf"
	default:
		return "any"
	}
}

// Property is one declared key of an object schema. Properties keep
// their declaration order.
type Property struct {
	Name   string
	Schema *Schema
}

// Schema is a recursive structural type descriptor.
type Schema struct {
	Type        Type
	Title       string
	Description string
	ReadOnly    bool
	WriteOnly   bool
	Default     any

	// Integer / Number
	Minimum *float64
	Maximum *float64

	// String
	Enums []string

	// Array
	Items    *Schema
	MinItems *int
	MaxItems *int

	// Object
	Properties           []Property
	Required             []string
	AdditionalProperties *Schema

	// OneOf
	Alternatives []*Schema
}

// Any accepts every value.
func Any() *Schema { return &Schema{Type: TypeWildcard} }

// Null accepts only null.
func Null() *Schema { return &Schema{Type: TypeNull} }

// Boolean accepts true and false.
func Boolean() *Schema { return &Schema{Type: TypeBoolean} }

// Integer accepts integral numbers.
func Integer() *Schema { return &Schema{Type: TypeInteger} }

// Number accepts any number, integers included.
func Number() *Schema { return &Schema{Type: TypeNumber} }

// String accepts any string.
func String() *Schema { return &Schema{Type: TypeString} }

// Enum accepts a string equal to one of values.
func Enum(values ...string) *Schema {
	return &Schema{Type: TypeString, Enums: append([]string(nil), values...)}
}

// EnumOf builds an enum schema from a named string type so that handlers
// can declare their options once as Go constants.
func EnumOf[T ~string](values ...T) *Schema {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = string(v)
	}
	return Enum(names...)
}

// Array accepts a list whose elements all match items. A nil items
// schema accepts any element.
func Array(items *Schema) *Schema {
	return &Schema{Type: TypeArray, Items: items}
}

// Object accepts an object. Keys not declared with WithProperty or
// WithRequired are rejected unless WithAdditional is set.
func Object() *Schema { return &Schema{Type: TypeObject} }

// Map accepts an object with arbitrary keys whose values match values.
func Map(values *Schema) *Schema {
	return &Schema{Type: TypeObject, AdditionalProperties: values}
}

// OneOf accepts a value matching at least one of alternatives.
func OneOf(alternatives ...*Schema) *Schema {
	return &Schema{Type: TypeOneOf, Alternatives: alternatives}
}

// Optional accepts null or a value matching s.
func Optional(s *Schema) *Schema { return OneOf(Null(), s) }

// Vector accepts a fixed-size numeric array, e.g. Vector(3) for xyz.
func Vector(size int) *Schema {
	return Array(Number()).WithItemCount(size, size)
}

// derive returns a copy of s with set applied. Builders never touch
// their receiver, so schemas derived from a shared base stay independent.
func (s *Schema) derive(set func(c *Schema)) *Schema {
	c := s.Clone()
	set(c)
	return c
}

func (s *Schema) WithTitle(title string) *Schema {
	return s.derive(func(c *Schema) { c.Title = title })
}

func (s *Schema) WithDescription(description string) *Schema {
	return s.derive(func(c *Schema) { c.Description = description })
}

func (s *Schema) WithDefault(value any) *Schema {
	return s.derive(func(c *Schema) { c.Default = value })
}

// AsReadOnly marks a property that is only ever produced, never accepted.
func (s *Schema) AsReadOnly() *Schema {
	return s.derive(func(c *Schema) { c.ReadOnly = true })
}

// AsWriteOnly marks a property that is only ever accepted, never produced.
func (s *Schema) AsWriteOnly() *Schema {
	return s.derive(func(c *Schema) { c.WriteOnly = true })
}

func (s *Schema) WithMinimum(min float64) *Schema {
	return s.derive(func(c *Schema) { c.Minimum = &min })
}

func (s *Schema) WithMaximum(max float64) *Schema {
	return s.derive(func(c *Schema) { c.Maximum = &max })
}

// WithRange sets both numeric bounds (inclusive).
func (s *Schema) WithRange(min, max float64) *Schema {
	return s.derive(func(c *Schema) {
		c.Minimum = &min
		c.Maximum = &max
	})
}

func (s *Schema) WithMinItems(n int) *Schema {
	return s.derive(func(c *Schema) { c.MinItems = &n })
}

func (s *Schema) WithMaxItems(n int) *Schema {
	return s.derive(func(c *Schema) { c.MaxItems = &n })
}

// WithItemCount sets both item-count bounds (inclusive).
func (s *Schema) WithItemCount(min, max int) *Schema {
	return s.derive(func(c *Schema) {
		c.MinItems = &min
		c.MaxItems = &max
	})
}

// WithProperty declares an optional property. Declaring the same name
// twice replaces the earlier schema at its original position.
func (s *Schema) WithProperty(name string, property *Schema) *Schema {
	return s.derive(func(c *Schema) { c.setProperty(name, property) })
}

// WithRequired declares a property that must be present.
func (s *Schema) WithRequired(name string, property *Schema) *Schema {
	return s.derive(func(c *Schema) {
		c.setProperty(name, property)
		if !c.IsRequired(name) {
			c.Required = append(c.Required, name)
		}
	})
}

// WithAdditional validates undeclared keys against additional instead of
// rejecting them.
func (s *Schema) WithAdditional(additional *Schema) *Schema {
	return s.derive(func(c *Schema) { c.AdditionalProperties = additional })
}

func (s *Schema) setProperty(name string, property *Schema) {
	for i := range s.Properties {
		if s.Properties[i].Name == name {
			s.Properties[i].Schema = property
			return
		}
	}
	s.Properties = append(s.Properties, Property{Name: name, Schema: property})
}

// Property returns the declared schema for name.
func (s *Schema) Property(name string) (*Schema, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return nil, false
}

// IsRequired reports whether name is a required property.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// IsWildcard reports whether s accepts every value without inspection.
func (s *Schema) IsWildcard() bool {
	return s == nil || s.Type == TypeWildcard
}

// Clone returns a deep copy of s. Registries clone the schemas handed to
// them so later changes to the caller's value cannot leak into a live entrypoint.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := *s
	if s.Minimum != nil {
		v := *s.Minimum
		c.Minimum = &v
	}
	if s.Maximum != nil {
		v := *s.Maximum
		c.Maximum = &v
	}
	if s.MinItems != nil {
		v := *s.MinItems
		c.MinItems = &v
	}
	if s.MaxItems != nil {
		v := *s.MaxItems
		c.MaxItems = &v
	}
	c.Enums = append([]string(nil), s.Enums...)
	c.Required = append([]string(nil), s.Required...)
	c.Items = s.Items.Clone()
	c.AdditionalProperties = s.AdditionalProperties.Clone()
	if s.Properties != nil {
		c.Properties = make([]Property, len(s.Properties))
		for i, p := range s.Properties {
			c.Properties[i] = Property{Name: p.Name, Schema: p.Schema.Clone()}
		}
	}
	if s.Alternatives != nil {
		c.Alternatives = make([]*Schema, len(s.Alternatives))
		for i, a := range s.Alternatives {
			c.Alternatives[i] = a.Clone()
		}
	}
	return &c
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
