package dump

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"dbvault/internal/logging"

	"github.com/stretchr/testify/assert"
)

var (
	intCol     = ParseColumnType("integer", "int4")
	numericCol = ParseColumnType("numeric", "numeric")
	floatCol   = ParseColumnType("double precision", "float8")
	boolCol    = ParseColumnType("boolean", "bool")
	textCol    = ParseColumnType("text", "text")
	jsonbCol   = ParseColumnType("jsonb", "jsonb")
	jsonCol    = ParseColumnType("json", "json")
	tagsCol    = ParseColumnType("ARRAY", "_text")
	intsCol    = ParseColumnType("ARRAY", "_int4")
	tsCol      = ParseColumnType("timestamp with time zone", "timestamptz")
	clockCol   = ParseColumnType("time without time zone", "time")
	byteaCol   = ParseColumnType("bytea", "bytea")
	unknownCol = ColumnType{}
)

type explodingStringer struct{}

func (explodingStringer) String() string { panic("boom") }

func TestLiteral(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		column ColumnType
		want   string
	}{
		{"nil", nil, textCol, "NULL"},
		{"nil in json column", nil, jsonbCol, "NULL"},
		{"nil map", map[string]any(nil), jsonbCol, "NULL"},
		{"int64", int64(42), intCol, "42"},
		{"negative int", -7, intCol, "-7"},
		{"float", 1.5, floatCol, "1.5"},
		{"NaN", math.NaN(), floatCol, "NULL"},
		{"infinity", math.Inf(1), floatCol, "NULL"},
		{"bool true", true, boolCol, "true"},
		{"bool false", false, boolCol, "false"},
		{"json number", json.Number("12345678901234567890"), numericCol, "12345678901234567890"},
		{"numeric bytes", []byte("12.50"), numericCol, "12.50"},
		{"numeric NaN text", []byte("NaN"), numericCol, "'NaN'"},
		{"timestamp", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tsCol, "'2024-01-01T00:00:00Z'"},
		{"timestamp fraction", time.Date(2024, 1, 1, 8, 5, 3, 120000000, time.UTC), tsCol, "'2024-01-01T08:05:03.12Z'"},
		{"clock", time.Date(0, 1, 1, 10, 30, 0, 0, time.UTC), clockCol, "'10:30:00'"},
		{"string", "hello", textCol, "'hello'"},
		{"embedded quote", "O'Brien", textCol, "'O''Brien'"},
		{"backslash", `C:\temp`, textCol, `'C:\temp'`},
		{"bytea", []byte{0xde, 0xad, 0xbe, 0xef}, byteaCol, `'\xdeadbeef'`},
		{"json bytes", []byte(`{"x":1}`), jsonbCol, `'{"x":1}'::jsonb`},
		{"json raw message", json.RawMessage(`{"x":1}`), jsonbCol, `'{"x":1}'::jsonb`},
		{"json object", map[string]any{"x": 1}, jsonbCol, `'{"x":1}'::jsonb`},
		{"json array", []any{"a", "b"}, jsonbCol, `'["a","b"]'::jsonb`},
		{"json string scalar", "it's", jsonbCol, `'"it''s"'::jsonb`},
		{"json number scalar", 3, jsonbCol, `'3'::jsonb`},
		{"json bool scalar", true, jsonbCol, `'true'::jsonb`},
		{"json text kept", []byte(`{"b": 1,  "b": 2}`), jsonCol, `'{"b": 1,  "b": 2}'::json`},
		{"json text string", `{ "a" : [1, 2] }`, jsonCol, `'{ "a" : [1, 2] }'::json`},
		{"text array", []string{"a", "b"}, tagsCol, `'{"a","b"}'::text[]`},
		{"text array escaping", []any{`say "hi"`, `back\slash`, nil}, tagsCol, `'{"say \"hi\"","back\\slash",NULL}'::text[]`},
		{"text array quote", []any{"it's"}, tagsCol, `'{"it''s"}'::text[]`},
		{"empty array", []string{}, tagsCol, `'{}'::text[]`},
		{"nested array", []any{[]any{"a"}, []any{"b"}}, tagsCol, `'{{"a"},{"b"}}'::text[]`},
		{"int array", []int64{1, 2}, intsCol, `'{1,2}'::int4[]`},
		{"driver array bytes", []byte(`{a,b}`), tagsCol, `'{a,b}'::text[]`},
		{"preformatted array", `{"a","b"}`, tagsCol, `'{"a","b"}'::text[]`},
		{"redundantly quoted array", `'{"a","b"}'`, tagsCol, `'{"a","b"}'::text[]`},
		{"json encoded array", `"{\"a\",\"b\"}"`, tagsCol, `'{"a","b"}'::text[]`},
		{"object in text column", map[string]string{"k": "v"}, textCol, `'{"k":"v"}'`},
		{"slice in text column", []string{"a"}, textCol, `'["a"]'`},
		{"unknown column string", "x", unknownCol, "'x'"},
		{"unknown column int", int64(5), unknownCol, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Literal(tt.value, tt.column))
		})
	}
}

func TestLiteral_AppointmentsExample(t *testing.T) {
	assert.Equal(t, "1", Literal(int64(1), intCol))
	assert.Equal(t, `'{"a","b"}'::text[]`, Literal([]string{"a", "b"}, tagsCol))
	assert.Equal(t, `'{"x":1}'::jsonb`, Literal(map[string]any{"x": 1}, jsonbCol))
	assert.Equal(t, `'2024-01-01T00:00:00Z'`, Literal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tsCol))
}

func TestLiteral_IsTotal(t *testing.T) {
	columns := []ColumnType{intCol, numericCol, boolCol, textCol, jsonbCol, tagsCol, tsCol, clockCol, byteaCol, unknownCol}
	values := []any{
		nil,
		func() {},
		make(chan int),
		map[string]any{"f": func() {}},
		[]any{func() {}},
		explodingStringer{},
		struct{ A int }{1},
		[]byte{0xff, 0x00},
		json.RawMessage(`not json`),
		math.Inf(-1),
		complex(1, 2),
		new(int),
	}

	for _, col := range columns {
		for _, v := range values {
			assert.NotPanics(t, func() {
				out := Literal(v, col)
				assert.NotEmpty(t, out)
			})
		}
	}
}

func TestSerializer_DegradeLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelNormal, Output: &buf, Format: "json"})
	assert.NoError(t, err)

	s := NewSerializer(logger)
	out := s.Serialize(map[string]any{"f": func() {}}, jsonbCol)

	assert.True(t, strings.HasPrefix(out, "'"))
	assert.True(t, strings.HasSuffix(out, "::jsonb"))
	assert.Contains(t, buf.String(), "Falling back to generic literal")
}

func TestNormalizeArrayLiteral(t *testing.T) {
	tests := map[string]string{
		`{"a","b"}`:          `{"a","b"}`,
		`  {a,b}  `:          `{a,b}`,
		`'{"a","b"}'`:        `{"a","b"}`,
		`''{"a"}''`:          `{"a"}`,
		`"{\"a\",\"b\"}"`:    `{"a","b"}`,
		`"'{\"it''s\"}'"`:    `{"it's"}`,
		`{}`:                 `{}`,
		`"not json`:          `"not json`,
		`'{"x","y"}'` + "\n": `{"x","y"}`,
	}

	for in, want := range tests {
		assert.Equal(t, want, NormalizeArrayLiteral(in), "input %q", in)
	}
}

func TestBraceLiteral_RejectsScalars(t *testing.T) {
	_, err := BraceLiteral("abc")
	assert.Error(t, err)
}
