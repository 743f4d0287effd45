// Package lineprotocol implements a strict InfluxDB Line Protocol parser.
//
// Line Protocol Format:
//
//	measurement[,tag_key=tag_value...] field_key=field_value[,field_key=field_value...] timestamp
//
// Examples:
//
//	cpu,host=server01,region=us-west usage_idle=90.5,usage_system=2.1 1609459200000000000
//	readings incline=125i 1577836800000
//	event,type=error message="disk full" 1609459200000000000
//
// Unlike lenient collectors that drop bad lines, parsing here is
// all-or-nothing: the first malformed line aborts the whole parse so the
// caller never ingests a partial payload.
package lineprotocol

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/tsbridge-io/tsbridge/pkg/models"
)

// ParseError describes a malformed line protocol line. Line numbers are
// 1-based and count every input line, including blanks and comments.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parser parses InfluxDB Line Protocol text into Metrics.
type Parser struct{}

// NewParser creates a new Line Protocol parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a full line protocol payload. Blank lines and lines starting
// with '#' are skipped. An empty payload is valid and yields an empty slice.
// The first malformed line returns a *ParseError and no metrics.
func (p *Parser) Parse(data []byte) ([]models.Metric, error) {
	lines := bytes.Split(data, []byte{'\n'})
	metrics := make([]models.Metric, 0, len(lines))

	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		metric, err := p.parseLine(line)
		if err != nil {
			return nil, &ParseError{Line: i + 1, Msg: err.Error()}
		}
		metrics = append(metrics, *metric)
	}

	return metrics, nil
}

// parseLine parses a single non-blank, non-comment line.
func (p *Parser) parseLine(line []byte) (*models.Metric, error) {
	parts := splitOnDelimiter(line, ' ')
	switch {
	case len(parts) < 2:
		return nil, fmt.Errorf("missing field set: %q", line)
	case len(parts) == 2:
		// Two tokens is ambiguous: a trailing integer means the field set
		// was dropped, anything else means the timestamp was
		if _, err := strconv.ParseInt(string(parts[1]), 10, 64); err == nil {
			return nil, fmt.Errorf("missing field set: %q", line)
		}
		return nil, fmt.Errorf("missing timestamp: %q", line)
	case len(parts) > 3:
		return nil, fmt.Errorf("expected measurement, fields and a single timestamp: %q", line)
	}

	name, tags, err := p.parseMeasurementTags(parts[0])
	if err != nil {
		return nil, err
	}

	fields, err := p.parseFields(parts[1])
	if err != nil {
		return nil, err
	}

	timestamp, err := strconv.ParseInt(string(parts[2]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q", parts[2])
	}

	return &models.Metric{
		Name:      name,
		Tags:      tags,
		Fields:    fields,
		Timestamp: timestamp,
	}, nil
}

// parseMeasurementTags parses the measurement name and optional tag set.
// Format: measurement[,tag=value,...]. Tag order is preserved and duplicate
// keys are kept as written.
func (p *Parser) parseMeasurementTags(part []byte) (string, []models.Tag, error) {
	// A leading comma would otherwise be swallowed by the splitter and
	// promote the first tag to measurement name
	if len(part) > 0 && part[0] == ',' {
		return "", nil, fmt.Errorf("missing measurement name")
	}

	components := splitOnDelimiter(part, ',')
	if len(components) == 0 {
		return "", nil, fmt.Errorf("missing measurement name")
	}

	measurement := unescape(components[0])
	if measurement == "" {
		return "", nil, fmt.Errorf("missing measurement name")
	}

	var tags []models.Tag
	for _, component := range components[1:] {
		idx := indexUnescaped(component, '=')
		if idx <= 0 {
			return "", nil, fmt.Errorf("malformed tag %q", component)
		}
		tags = append(tags, models.Tag{
			Key:   unescape(component[:idx]),
			Value: unescape(component[idx+1:]),
		})
	}

	return measurement, tags, nil
}

// parseFields parses the field set. The set must be non-empty and every
// entry must be key=value with a value that lexes to one of the five field
// types. Field order is preserved.
func (p *Parser) parseFields(part []byte) ([]models.Field, error) {
	fieldParts := splitOnDelimiter(part, ',')
	if len(fieldParts) == 0 {
		return nil, fmt.Errorf("missing field set")
	}

	fields := make([]models.Field, 0, len(fieldParts))
	for _, fieldPart := range fieldParts {
		idx := indexUnescaped(fieldPart, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("malformed field %q", fieldPart)
		}

		value, err := p.parseFieldValue(fieldPart[idx+1:])
		if err != nil {
			return nil, err
		}
		fields = append(fields, models.Field{
			Key:   unescape(fieldPart[:idx]),
			Value: value,
		})
	}

	return fields, nil
}

// parseFieldValue lexes a field value based on the type indicators:
//   - Integer: digits ending with 'i' (e.g. 123i)
//   - Unsigned integer: digits ending with 'u' (e.g. 123u)
//   - Float: bare numeric literal (e.g. 123.45)
//   - String: double-quoted, \" and \\ escapes
//   - Boolean: t, T, true, True, TRUE, f, F, false, False, FALSE
//
// Any other bare token is a parse error.
func (p *Parser) parseFieldValue(value []byte) (models.FieldValue, error) {
	if len(value) == 0 {
		return models.FieldValue{}, fmt.Errorf("empty field value")
	}

	if value[0] == '"' {
		s, err := unquoteString(value)
		if err != nil {
			return models.FieldValue{}, err
		}
		return models.StringValue(s), nil
	}

	switch string(value) {
	case "t", "T", "true", "True", "TRUE":
		return models.BoolValue(true), nil
	case "f", "F", "false", "False", "FALSE":
		return models.BoolValue(false), nil
	}

	last := value[len(value)-1]
	if last == 'i' {
		intVal, err := strconv.ParseInt(string(value[:len(value)-1]), 10, 64)
		if err != nil {
			return models.FieldValue{}, fmt.Errorf("invalid integer field value %q", value)
		}
		return models.IntValue(intVal), nil
	}
	if last == 'u' {
		uintVal, err := strconv.ParseUint(string(value[:len(value)-1]), 10, 64)
		if err != nil {
			return models.FieldValue{}, fmt.Errorf("invalid unsigned integer field value %q", value)
		}
		return models.UintValue(uintVal), nil
	}

	// strconv.ParseFloat alone is too lenient for the float grammar: it also
	// accepts NaN, infinities and hex floats
	if !isFloatToken(value) {
		return models.FieldValue{}, fmt.Errorf("invalid field value %q", value)
	}
	floatVal, err := strconv.ParseFloat(string(value), 64)
	if err != nil {
		return models.FieldValue{}, fmt.Errorf("invalid field value %q", value)
	}
	return models.FloatValue(floatVal), nil
}

// isFloatToken reports whether value has the line protocol float shape:
// optional sign, decimal digits with an optional fraction, and an optional
// decimal exponent.
func isFloatToken(value []byte) bool {
	i := 0
	if i < len(value) && (value[i] == '+' || value[i] == '-') {
		i++
	}

	digits := 0
	for i < len(value) && value[i] >= '0' && value[i] <= '9' {
		i++
		digits++
	}
	if i < len(value) && value[i] == '.' {
		i++
		for i < len(value) && value[i] >= '0' && value[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i == len(value) {
		return true
	}

	if value[i] != 'e' && value[i] != 'E' {
		return false
	}
	i++
	if i < len(value) && (value[i] == '+' || value[i] == '-') {
		i++
	}
	if i == len(value) {
		return false
	}
	for ; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}

// unquoteString unquotes a double-quoted string value, handling \" and \\
// escapes. The closing quote must terminate the token; an unescaped quote
// anywhere else is an error.
func unquoteString(value []byte) (string, error) {
	if len(value) < 2 || value[len(value)-1] != '"' {
		return "", fmt.Errorf("unterminated string field value %q", value)
	}

	inner := value[1 : len(value)-1]
	buf := make([]byte, 0, len(inner))
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			next := inner[i+1]
			if next == '"' || next == '\\' {
				buf = append(buf, next)
				i++
				continue
			}
			buf = append(buf, inner[i])
			continue
		}
		if inner[i] == '"' {
			return "", fmt.Errorf("unescaped quote in string field value %q", value)
		}
		buf = append(buf, inner[i])
	}

	return string(buf), nil
}

// splitOnDelimiter splits data on an unescaped delimiter, respecting escaped
// characters and double-quoted strings. Consecutive delimiters produce no
// empty parts.
func splitOnDelimiter(data []byte, delim byte) [][]byte {
	var parts [][]byte
	var current []byte
	inQuotes := false

	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) {
			// Escaped character - keep both backslash and next char
			current = append(current, data[i], data[i+1])
			i++
		} else if data[i] == '"' {
			inQuotes = !inQuotes
			current = append(current, data[i])
		} else if data[i] == delim && !inQuotes {
			if len(current) > 0 {
				parts = append(parts, current)
				current = nil
			}
		} else {
			current = append(current, data[i])
		}
	}

	if len(current) > 0 {
		parts = append(parts, current)
	}

	return parts
}

// indexUnescaped returns the index of the first unescaped occurrence of c,
// or -1 if none exists.
func indexUnescaped(data []byte, c byte) int {
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' {
			i++
			continue
		}
		if data[i] == c {
			return i
		}
	}
	return -1
}

// unescape unescapes line protocol identifier escapes (\, \  \=).
// Only allocates a new buffer when escapes are present.
func unescape(data []byte) string {
	if !bytes.ContainsRune(data, '\\') {
		return string(data)
	}

	buf := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) {
			next := data[i+1]
			if next == ',' || next == ' ' || next == '=' {
				buf = append(buf, next)
				i++
				continue
			}
		}
		buf = append(buf, data[i])
	}
	return string(buf)
}
