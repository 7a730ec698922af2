// Package filter parses ad-hoc attribute filter conditions from
// query-style parameters and evaluates them against event records.
//
// A condition is written as `field=value` (implicit equality) or
// `field[op]=value`. Conditions combine with logical AND; there is no
// OR or grouping. Malformed keys and unknown operators are dropped
// silently so an ill-formed filter never becomes a hard error, it
// simply filters nothing.
package filter

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Operator is a comparison operator in a filter condition.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
)

// Kind classifies how a condition's field is resolved and where the
// condition can be evaluated.
type Kind int

const (
	// KindDirect is a scalar attribute of the event record itself.
	// The store can evaluate it natively.
	KindDirect Kind = iota

	// KindDate is a timestamp attribute compared chronologically.
	// The store can evaluate it natively against the stored ISO form.
	KindDate

	// KindJSON is a dotted path into payload or metadata. The store
	// persists those as opaque JSON text, so the condition must be
	// evaluated in memory against materialized records.
	KindJSON
)

// Condition is one parsed (field, operator, value) triple.
type Condition struct {
	Field string
	Op    Operator
	Value string
	Kind  Kind
}

// Native reports whether the store can evaluate the condition without
// materializing records.
func (c Condition) Native() bool {
	return c.Kind != KindJSON
}

// Set is an AND-combined group of conditions.
type Set []Condition

// Record is anything the engine can evaluate conditions against.
type Record interface {
	// Field resolves a dotted path, reporting false when absent.
	Field(path string) (any, bool)
}

var (
	bracketKey = regexp.MustCompile(`^([^\[\]]+)\[([^\[\]]+)\]$`)
	fieldName  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

	validOps = map[Operator]bool{
		OpEq: true, OpNe: true, OpGt: true, OpGte: true,
		OpLt: true, OpLte: true, OpContains: true, OpStartsWith: true,
	}

	// Parameters with reserved meanings on list endpoints; never
	// treated as filter conditions.
	reservedParams = map[string]bool{
		"status": true, "limit": true, "cursor": true,
	}

	// Date shorthand aliases rewrite to a range condition on the
	// underlying timestamp field.
	dateAliases = map[string]struct {
		field string
		op    Operator
	}{
		"created_after":    {"created_at", OpGte},
		"created_before":   {"created_at", OpLte},
		"delivered_after":  {"delivered_at", OpGte},
		"delivered_before": {"delivered_at", OpLte},
	}
)

// ParseParams extracts filter conditions from query parameters.
// Reserved parameters, empty values, malformed field names and
// unknown operators are all skipped.
func ParseParams(params map[string]string) Set {
	var set Set
	for key, value := range params {
		if reservedParams[key] || value == "" {
			continue
		}

		field, op, ok := parseKey(key)
		if !ok {
			continue
		}

		if alias, isAlias := dateAliases[field]; isAlias {
			set = append(set, Condition{
				Field: alias.field,
				Op:    alias.op,
				Value: value,
				Kind:  KindDate,
			})
			continue
		}

		set = append(set, Condition{
			Field: field,
			Op:    op,
			Value: value,
			Kind:  classify(field),
		})
	}
	return set
}

func parseKey(key string) (field string, op Operator, ok bool) {
	if m := bracketKey.FindStringSubmatch(key); m != nil {
		field, op = m[1], Operator(m[2])
		if !validOps[op] {
			return "", "", false
		}
	} else {
		field, op = key, OpEq
	}
	if !fieldName.MatchString(field) {
		return "", "", false
	}
	return field, op, true
}

func classify(field string) Kind {
	if strings.HasPrefix(field, "payload.") || strings.HasPrefix(field, "metadata.") {
		return KindJSON
	}
	if field == "created_at" || field == "delivered_at" {
		return KindDate
	}
	return KindDirect
}

// HasInMemory reports whether any condition must be evaluated against
// materialized records.
func (s Set) HasInMemory() bool {
	for _, c := range s {
		if !c.Native() {
			return true
		}
	}
	return false
}

// Split partitions the set into store-native and materialize-required
// conditions.
func (s Set) Split() (native, inMemory Set) {
	for _, c := range s {
		if c.Native() {
			native = append(native, c)
		} else {
			inMemory = append(inMemory, c)
		}
	}
	return native, inMemory
}

// Matches reports whether the record satisfies every condition in the
// set. A missing field is a non-match, not an error.
func (s Set) Matches(rec Record) bool {
	for _, c := range s {
		if !c.Matches(rec) {
			return false
		}
	}
	return true
}

// Matches evaluates a single condition against the record.
func (c Condition) Matches(rec Record) bool {
	value, ok := rec.Field(c.Field)
	if !ok || value == nil {
		return false
	}

	if c.Kind == KindDate {
		return c.matchDate(value)
	}

	switch c.Op {
	case OpContains:
		str, ok := value.(string)
		return ok && strings.Contains(str, c.Value)
	case OpStartsWith:
		str, ok := value.(string)
		return ok && strings.HasPrefix(str, c.Value)
	}

	// Numeric comparison when both sides are numbers; JSON decoding
	// yields float64 for payload numbers.
	if num, ok := asFloat(value); ok {
		if want, err := strconv.ParseFloat(c.Value, 64); err == nil {
			return compareOrdered(c.Op, num, want)
		}
		return false
	}

	str, ok := value.(string)
	if !ok {
		if b, isBool := value.(bool); isBool {
			str, ok = strconv.FormatBool(b), true
		}
	}
	if !ok {
		return false
	}
	return compareOrdered(c.Op, str, c.Value)
}

func (c Condition) matchDate(value any) bool {
	have, ok := value.(time.Time)
	if !ok {
		if str, isStr := value.(string); isStr {
			parsed, err := parseTimestamp(str)
			if err != nil {
				return false
			}
			have = parsed
		} else {
			return false
		}
	}

	want, err := parseTimestamp(c.Value)
	if err != nil {
		return false
	}

	switch c.Op {
	case OpEq:
		return have.Equal(want)
	case OpNe:
		return !have.Equal(want)
	case OpGt:
		return have.After(want)
	case OpGte:
		return have.After(want) || have.Equal(want)
	case OpLt:
		return have.Before(want)
	case OpLte:
		return have.Before(want) || have.Equal(want)
	}
	return false
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func compareOrdered[T string | float64](op Operator, have, want T) bool {
	switch op {
	case OpEq:
		return have == want
	case OpNe:
		return have != want
	case OpGt:
		return have > want
	case OpGte:
		return have >= want
	case OpLt:
		return have < want
	case OpLte:
		return have <= want
	}
	return false
}
