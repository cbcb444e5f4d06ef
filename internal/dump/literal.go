package dump

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"
)

const nullKeyword = "NULL"

// ClockFormat is the layout used for time-of-day values.
const ClockFormat = "15:04:05.999999"

var numericPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Serializer converts column values into SQL literals. It never fails:
// values it cannot handle degrade to a quoted generic literal and a warning.
type Serializer struct {
	logger *logging.Logger
}

// NewSerializer creates a serializer that reports degraded values to logger
func NewSerializer(logger *logging.Logger) *Serializer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Serializer{logger: logger}
}

// Literal serializes value with a serializer that does not log.
func Literal(value any, column ColumnType) string {
	return NewSerializer(nil).Serialize(value, column)
}

// Serialize returns a literal the engine parses back into value.
func (s *Serializer) Serialize(value any, column ColumnType) (literal string) {
	defer func() {
		if r := recover(); r != nil {
			literal = s.degrade(value, column, apperrors.NewSerializationError(
				fmt.Sprintf("panic while serializing %T", value), fmt.Errorf("%v", r)))
		}
	}()

	out, err := serialize(value, column)
	if err != nil {
		return s.degrade(value, column, err)
	}
	return out
}

func (s *Serializer) degrade(value any, column ColumnType, err error) string {
	s.logger.WithFields(map[string]interface{}{
		"column_type": column.Name,
		"value_type":  fmt.Sprintf("%T", value),
		"error":       err.Error(),
	}).Warn("Falling back to generic literal")

	return quote(fmt.Sprint(value)) + column.CastSuffix()
}

func serialize(value any, column ColumnType) (string, error) {
	if isNil(value) {
		return nullKeyword, nil
	}

	switch column.Kind {
	case KindJSON:
		return jsonLiteral(value, column)
	case KindArray:
		if out, ok, err := arrayLiteral(value, column); ok || err != nil {
			return out, err
		}
	}

	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), nil
	case float32:
		return floatLiteral(float64(v)), nil
	case float64:
		return floatLiteral(v), nil
	case json.Number:
		if numericPattern.MatchString(string(v)) {
			return string(v), nil
		}
		return quote(string(v)), nil
	case time.Time:
		return quote(formatTime(v, column)), nil
	case json.RawMessage:
		return quote(string(v)) + column.CastSuffix(), nil
	case []byte:
		return bytesLiteral(v, column), nil
	case string:
		if column.Kind == KindNumber && numericPattern.MatchString(v) {
			return v, nil
		}
		return quote(v) + column.CastSuffix(), nil
	case fmt.Stringer:
		return quote(v.String()) + column.CastSuffix(), nil
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", apperrors.NewSerializationError("failed to encode object value", err)
		}
		return quote(string(encoded)), nil
	}

	return quote(fmt.Sprint(value)) + column.CastSuffix(), nil
}

func jsonLiteral(value any, column ColumnType) (string, error) {
	var encoded []byte
	switch v := value.(type) {
	case json.RawMessage:
		encoded = v
	case string:
		if column.PreservesText() {
			encoded = []byte(v)
		} else {
			encoded, _ = json.Marshal(v)
		}
	case []byte:
		if !json.Valid(v) {
			return "", apperrors.NewSerializationError("column holds invalid JSON text", nil).
				WithContext("column_type", column.Name)
		}
		encoded = v
	default:
		var err error
		encoded, err = json.Marshal(value)
		if err != nil {
			return "", apperrors.NewSerializationError("failed to encode JSON value", err)
		}
	}
	return quote(string(encoded)) + column.CastSuffix(), nil
}

// arrayLiteral handles values of an array column. ok is false when the value
// shape is not an array representation and the generic rules should apply.
func arrayLiteral(value any, column ColumnType) (string, bool, error) {
	switch v := value.(type) {
	case string:
		return quote(NormalizeArrayLiteral(v)) + column.CastSuffix(), true, nil
	case []byte:
		return quote(NormalizeArrayLiteral(string(v))) + column.CastSuffix(), true, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", false, nil
	}

	body, err := BraceLiteral(value)
	if err != nil {
		return "", true, err
	}
	return quote(body) + column.CastSuffix(), true, nil
}

// BraceLiteral renders a slice as an array literal such as {"a","b"}.
// Strings are always double-quoted with embedded quotes and backslashes escaped.
func BraceLiteral(value any) (string, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", apperrors.NewSerializationError(fmt.Sprintf("%T is not an array value", value), nil)
	}

	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		elem, err := arrayElement(rv.Index(i).Interface())
		if err != nil {
			return "", err
		}
		b.WriteString(elem)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func arrayElement(value any) (string, error) {
	if isNil(value) {
		return nullKeyword, nil
	}

	switch v := value.(type) {
	case string:
		return quoteElement(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return string(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nullKeyword, nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case time.Time:
		return quoteElement(v.Format(time.RFC3339Nano)), nil
	case []byte:
		return quoteElement(string(v)), nil
	case json.RawMessage:
		return quoteElement(string(v)), nil
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return BraceLiteral(value)
	case reflect.Map, reflect.Struct:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", apperrors.NewSerializationError("failed to encode array element", err)
		}
		return quoteElement(string(encoded)), nil
	}

	return fmt.Sprint(value), nil
}

func quoteElement(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// NormalizeArrayLiteral strips redundant quoting layers from a captured array
// literal, e.g. `'{"a"}'` or a JSON-encoded `"{\"a\"}"`, down to `{"a"}`.
func NormalizeArrayLiteral(s string) string {
	for {
		trimmed := strings.TrimSpace(s)
		next := trimmed

		switch {
		case len(trimmed) >= 2 && trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'':
			next = strings.ReplaceAll(trimmed[1:len(trimmed)-1], "''", "'")
		case len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"':
			var decoded string
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				next = decoded
			}
		}

		if next == trimmed {
			return trimmed
		}
		s = next
	}
}

func bytesLiteral(v []byte, column ColumnType) string {
	switch {
	case column.Binary:
		return quote(`\x` + hex.EncodeToString(v))
	case column.Kind == KindNumber && numericPattern.MatchString(string(v)):
		return string(v)
	default:
		return quote(string(v)) + column.CastSuffix()
	}
}

func floatLiteral(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nullKeyword
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatTime(t time.Time, column ColumnType) string {
	if column.Clock {
		if strings.Contains(column.Name, "tz") || strings.Contains(column.Name, "with time zone") {
			return t.Format(ClockFormat + "Z07:00")
		}
		return t.Format(ClockFormat)
	}
	return t.Format(time.RFC3339Nano)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
