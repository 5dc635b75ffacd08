package schema

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode parses JSON the way the request parser does (numbers kept as
// json.Number).
func decode(t *testing.T, text string) any {
	t.Helper()
	decoder := json.NewDecoder(bytes.NewReader([]byte(text)))
	decoder.UseNumber()
	var value any
	require.NoError(t, decoder.Decode(&value))
	return value
}

func TestWildcardAcceptsEverything(t *testing.T) {
	for _, text := range []string{`null`, `true`, `1`, `1.5`, `"x"`, `[1,"a"]`, `{"a":{"b":[]}}`} {
		assert.Empty(t, Validate(decode(t, text), Any()), text)
		assert.Empty(t, Validate(decode(t, text), nil), text)
	}
}

func TestValidateScalarTypes(t *testing.T) {
	tests := []struct {
		name   string
		schema *Schema
		input  string
		errors Errors
	}{
		{"null ok", Null(), `null`, nil},
		{"boolean ok", Boolean(), `false`, nil},
		{"string ok", String(), `"a"`, nil},
		{"integer ok", Integer(), `12`, nil},
		{"integer widens to number", Number(), `12`, nil},
		{"number ok", Number(), `1.5`, nil},
		{"number is not integer", Integer(), `1.5`,
			Errors{"Invalid type: expected 'integer', got 'number'"}},
		{"string is not boolean", Boolean(), `"true"`,
			Errors{"Invalid type: expected 'boolean', got 'string'"}},
		{"null is not object", Object(), `null`,
			Errors{"Invalid type: expected 'object', got 'null'"}},
		{"object is not array", Array(Integer()), `{}`,
			Errors{"Invalid type: expected 'array', got 'object'"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.errors, Validate(decode(t, tt.input), tt.schema))
		})
	}
}

func TestValidateIntegerBounds(t *testing.T) {
	s := Integer().WithRange(-1, 3)

	assert.Equal(t, Errors{"Value below minimum: expected >= -1, got -2"}, Validate(decode(t, `-2`), s))
	assert.Equal(t, Errors{"Value above maximum: expected <= 3, got 4"}, Validate(decode(t, `4`), s))
	assert.Empty(t, Validate(decode(t, `-1`), s))
	assert.Empty(t, Validate(decode(t, `3`), s))
}

func TestValidateNumberBoundsNested(t *testing.T) {
	s := Object().WithProperty("gain", Number().WithRange(0, 1.5))

	assert.Equal(t,
		Errors{"Value above maximum for gain: expected <= 1.5, got 2.25"},
		Validate(decode(t, `{"gain": 2.25}`), s))
}

func TestValidateNestedType(t *testing.T) {
	s := Object().WithProperty("internal",
		Object().WithProperty("integer", Integer()))

	assert.Equal(t,
		Errors{"Invalid type for internal.integer: expected 'integer', got 'boolean'"},
		Validate(decode(t, `{"internal": {"integer": true}}`), s))
}

func TestValidateArrayItems(t *testing.T) {
	s := Array(Integer())

	assert.Equal(t,
		Errors{"Invalid type for [1]: expected 'integer', got 'string'"},
		Validate(decode(t, `[1, "test", 2]`), s))
}

func TestValidateArrayPathsCompose(t *testing.T) {
	s := Object().WithProperty("models",
		Array(Object().WithRequired("id", Integer())))

	assert.Equal(t,
		Errors{
			"Invalid type for models[0].id: expected 'integer', got 'string'",
			"Missing property: 'models[1].id'",
		},
		Validate(decode(t, `{"models": [{"id": "a"}, {}]}`), s))
}

func TestValidateEnum(t *testing.T) {
	s := Enum("test1", "test2")

	assert.Equal(t,
		Errors{"Invalid enum: 'Test2' not in ['test1', 'test2']"},
		Validate(decode(t, `"Test2"`), s))
	assert.Empty(t, Validate(decode(t, `"test2"`), s))
}

type projection string

func TestEnumOfNamedType(t *testing.T) {
	s := Object().WithProperty("projection", EnumOf(projection("perspective"), projection("orthographic")))

	assert.Equal(t,
		Errors{"Invalid enum for projection: 'fisheye' not in ['perspective', 'orthographic']"},
		Validate(decode(t, `{"projection": "fisheye"}`), s))
}

func TestValidateMissingProperties(t *testing.T) {
	s := Object().
		WithRequired("path", String()).
		WithProperty("options", Object().WithRequired("quality", Integer()))

	assert.Equal(t,
		Errors{"Missing property: 'path'", "Missing property: 'options.quality'"},
		Validate(decode(t, `{"options": {}}`), s))
}

func TestValidateUnknownProperty(t *testing.T) {
	s := Object().WithProperty("known", Integer())

	assert.Equal(t,
		Errors{"Unknown property: 'other'"},
		Validate(decode(t, `{"known": 1, "other": 2}`), s))
}

func TestAdditionalPropertiesSuppressesUnknown(t *testing.T) {
	s := Object().WithProperty("known", Integer()).WithAdditional(String())

	assert.Empty(t, Validate(decode(t, `{"known": 1, "other": "x"}`), s))
	assert.Equal(t,
		Errors{"Invalid type for other: expected 'string', got 'integer'"},
		Validate(decode(t, `{"known": 1, "other": 2}`), s))
}

func TestValidateReportsEveryChildFailure(t *testing.T) {
	s := Object().
		WithRequired("a", Integer()).
		WithRequired("b", Boolean()).
		WithRequired("c", String())

	errs := Validate(decode(t, `{"a": "x", "b": 1, "d": null}`), s)
	assert.Equal(t, Errors{
		"Missing property: 'c'",
		"Invalid type for a: expected 'integer', got 'string'",
		"Invalid type for b: expected 'boolean', got 'integer'",
		"Unknown property: 'd'",
	}, errs)
}

func TestValidateItemCount(t *testing.T) {
	s := Array(Integer()).WithItemCount(2, 3)

	assert.Equal(t,
		Errors{"Not enough items: expected at least 2 item(s), got 1"},
		Validate(decode(t, `[1]`), s))
	assert.Equal(t,
		Errors{"Too many items: expected at most 3 item(s), got 4"},
		Validate(decode(t, `[1, 2, 3, 4]`), s))
	assert.Empty(t, Validate(decode(t, `[1, 2]`), s))
}

func TestValidateItemCountStillChecksItems(t *testing.T) {
	s := Vector(3)

	assert.Equal(t,
		Errors{
			"Not enough items: expected at least 3 item(s), got 2",
			"Invalid type for [1]: expected 'number', got 'string'",
		},
		Validate(decode(t, `[0, "y"]`), s))
}

func TestValidateOneOf(t *testing.T) {
	s := OneOf(Integer(), Object().WithRequired("name", String()))

	assert.Empty(t, Validate(decode(t, `3`), s))
	assert.Empty(t, Validate(decode(t, `{"name": "a"}`), s))
	assert.Equal(t,
		Errors{"Cannot find a schema in oneOf that matches the given input"},
		Validate(decode(t, `{"other": 1}`), s))
	assert.Equal(t,
		Errors{"Cannot find a schema in oneOf that matches the given input"},
		Validate(decode(t, `1.5`), s))
}

func TestOneOfLaterAlternativeMatches(t *testing.T) {
	// The first alternative fails with several errors; the second matches.
	s := OneOf(
		Object().WithRequired("a", Integer()).WithRequired("b", Integer()),
		Object().WithRequired("c", Integer()),
	)
	assert.Empty(t, Validate(decode(t, `{"c": 1}`), s))
}

func TestOptional(t *testing.T) {
	s := Object().WithProperty("color", Optional(Vector(3)))

	assert.Empty(t, Validate(decode(t, `{"color": null}`), s))
	assert.Empty(t, Validate(decode(t, `{"color": [1, 0, 0]}`), s))
	assert.Equal(t,
		Errors{"Cannot find a schema in oneOf that matches the given input"},
		Validate(decode(t, `{"color": "red"}`), s))
}

func TestValidateNativeGoValues(t *testing.T) {
	s := Object().
		WithRequired("count", Integer().WithMinimum(0)).
		WithRequired("ratio", Number())

	value := map[string]any{"count": int64(-3), "ratio": float32(0.5)}
	assert.Equal(t, Errors{"Value below minimum for count: expected >= 0, got -3"}, Validate(value, s))
	assert.Equal(t, "integer", TypeOf(uint8(1)))
	assert.Equal(t, "integer", TypeOf(2.0))
	assert.Equal(t, "number", TypeOf(json.Number("2.5")))
	assert.Equal(t, "unknown", TypeOf(struct{}{}))
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	value := decode(t, `{"a": [1, {"b": 2}], "z": 1}`)
	before, err := json.Marshal(value)
	require.NoError(t, err)

	Validate(value, Object().WithProperty("a", Array(Object())))

	after, err := json.Marshal(value)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestErrorsErr(t *testing.T) {
	assert.NoError(t, Errors(nil).Err())

	err := Errors{"Missing property: 'a'", "Unknown property: 'b'"}.Err()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 2)
	assert.Equal(t, "Invalid params: Missing property: 'a'; Unknown property: 'b'", err.Error())
}

func TestCloneIsDeep(t *testing.T) {
	original := Object().WithRequired("n", Integer().WithMaximum(3))
	clone := original.Clone()

	inner, _ := original.Property("n")
	*inner.Maximum = 10
	original.Required = append(original.Required, "m")

	clonedInner, ok := clone.Property("n")
	require.True(t, ok)
	assert.Equal(t, 3.0, *clonedInner.Maximum)
	assert.False(t, clone.IsRequired("m"))
}

func TestBuildersReturnCopies(t *testing.T) {
	base := Integer()
	lower := base.WithMinimum(0)
	upper := base.WithMaximum(5)

	assert.NotSame(t, base, lower)
	assert.NotSame(t, lower, upper)
	assert.Nil(t, base.Minimum)
	assert.Nil(t, base.Maximum)
	assert.Nil(t, lower.Maximum)
	assert.Empty(t, Validate(json.Number("9"), lower))
	assert.Equal(t, Errors{"Value above maximum: expected <= 5, got 9"}, Validate(json.Number("9"), upper))

	point := Object().WithRequired("x", Number())
	withY := point.WithRequired("y", Number())
	withZ := point.WithProperty("z", Number())
	assert.Len(t, point.Properties, 1)
	assert.Equal(t, []string{"x", "y"}, withY.Required)
	assert.Equal(t, []string{"x"}, withZ.Required)
	_, hasY := withZ.Property("y")
	assert.False(t, hasY)
}

func TestIntegralDecimalsCountAsIntegers(t *testing.T) {
	assert.Equal(t, "integer", TypeOf(json.Number("1.0")))
	assert.Equal(t, "integer", TypeOf(json.Number("1e2")))
	assert.Equal(t, "number", TypeOf(json.Number("1.5")))
	assert.Equal(t, "number", TypeOf(json.Number("2.5E-1")))

	assert.Empty(t, Validate(json.Number("1.0"), Integer()))
	// The value is echoed as the client wrote it.
	assert.Equal(t,
		Errors{"Value below minimum: expected >= 0, got -1.0"},
		Validate(json.Number("-1.0"), Integer().WithMinimum(0)))
	assert.Equal(t,
		Errors{"Invalid type: expected 'integer', got 'number'"},
		Validate(json.Number("0.5"), Integer()))
}
