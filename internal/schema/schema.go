// Package schema checks payloads structurally against a small set of named
// shapes. Payloads are marshalled to JSON and checked in their generic form so
// the rules apply to the wire representation.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	Response   = "response"
	MarketData = "worker.market_data"
	Forecast   = "worker.forecast"
	Insight    = "worker.insight"

	unavailable = "unavailable"
)

var ErrUnknownSchema = errors.New("unknown schema")

type ValidationError struct {
	Schema   string
	Path     string
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema %s: %s: expected %s, got %s", e.Schema, e.Path, e.Expected, e.Actual)
}

type kind int

const (
	kindObject kind = iota
	kindArray
	kindMap
	kindString
	kindNumber
	kindTimestamp
)

func (k kind) String() string {
	switch k {
	case kindObject:
		return "object"
	case kindArray:
		return "array"
	case kindMap:
		return "map"
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindTimestamp:
		return "RFC3339 timestamp"
	}
	return "unknown"
}

type node struct {
	kind   kind
	fields map[string]field
	elem   *node
	// keysFrom names a sibling string array whose values must all be keys.
	keysFrom string
	sentinel bool
	nonEmpty bool
}

type field struct {
	node     node
	required bool
}

func req(n node) field { return field{node: n, required: true} }
func opt(n node) field { return field{node: n} }

var (
	str       = node{kind: kindString}
	nonEmpty  = node{kind: kindString, nonEmpty: true}
	num       = node{kind: kindNumber}
	timestamp = node{kind: kindTimestamp}
	strList   = node{kind: kindArray, elem: &str}
)

var priceShape = node{kind: kindObject, fields: map[string]field{
	"ts":     req(timestamp),
	"open":   req(num),
	"high":   req(num),
	"low":    req(num),
	"close":  req(num),
	"volume": req(num),
	"source": req(nonEmpty),
}}

var forecastShape = node{kind: kindObject, fields: map[string]field{
	"horizon":      req(nonEmpty),
	"y_hat":        req(num),
	"y_lower":      opt(num),
	"y_upper":      opt(num),
	"confidence":   req(num),
	"method":       req(nonEmpty),
	"generated_at": opt(timestamp),
}}

var insightShape = node{kind: kindObject, fields: map[string]field{
	"summary_text": req(nonEmpty),
	"citations":    req(strList),
	"window":       req(nonEmpty),
}}

func sentinelMap(value node) node {
	v := value
	v.sentinel = true
	return node{kind: kindMap, elem: &v, keysFrom: "symbols"}
}

var tickShape = func() node {
	n := node{kind: kindObject, fields: map[string]field{"symbol": req(nonEmpty)}}
	for k, f := range priceShape.fields {
		n.fields[k] = f
	}
	return n
}()

var schemas = map[string]node{
	Response: {kind: kindObject, fields: map[string]field{
		"request_id": req(nonEmpty),
		"as_of":      req(timestamp),
		"symbols":    req(strList),
		"prices":     req(sentinelMap(priceShape)),
		"forecast":   req(sentinelMap(forecastShape)),
		"insight":    req(sentinelMap(insightShape)),
		"warnings":   req(strList),
	}},
	MarketData: {kind: kindObject, fields: map[string]field{
		"ticks":    req(node{kind: kindMap, elem: &tickShape}),
		"acked_at": req(timestamp),
		"missing":  opt(strList),
	}},
	Forecast: {kind: kindObject, fields: map[string]field{
		"id":           req(nonEmpty),
		"symbol":       req(nonEmpty),
		"generated_at": req(timestamp),
		"horizon":      req(nonEmpty),
		"y_hat":        req(num),
		"y_lower":      req(num),
		"y_upper":      req(num),
		"confidence":   req(num),
		"method":       req(nonEmpty),
		"source":       req(nonEmpty),
	}},
	Insight: {kind: kindObject, fields: map[string]field{
		"summary": req(node{kind: kindObject, fields: map[string]field{
			"id":            req(nonEmpty),
			"symbol":        req(nonEmpty),
			"window":        req(nonEmpty),
			"summary_text":  req(nonEmpty),
			"citations":     req(strList),
			"citation_urls": opt(strList),
			"generated_at":  req(timestamp),
			"source":        req(nonEmpty),
		}}),
		"passages": opt(node{kind: kindArray, elem: &node{kind: kindObject, fields: map[string]field{
			"text":       req(str),
			"score":      req(num),
			"source_ref": req(nonEmpty),
		}}}),
	}},
}

func IDs() []string {
	out := make([]string, 0, len(schemas))
	for id := range schemas {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate returns nil or a *ValidationError describing the first mismatch.
// An unknown schema id is reported as an error wrapping ErrUnknownSchema.
func Validate(payload any, schemaID string) error {
	s, ok := schemas[schemaID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSchema, schemaID)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return &ValidationError{Schema: schemaID, Path: "$", Expected: "json-encodable value", Actual: err.Error()}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Schema: schemaID, Path: "$", Expected: "json document", Actual: err.Error()}
	}
	v := validator{schema: schemaID}
	return v.check(s, doc, "$")
}

type validator struct {
	schema string
}

func (v validator) fail(path, expected string, actual any) error {
	return &ValidationError{Schema: v.schema, Path: path, Expected: expected, Actual: describe(actual)}
}

func (v validator) check(n node, val any, path string) error {
	if val == nil {
		return v.fail(path, n.kind.String(), nil)
	}
	if n.sentinel {
		if s, ok := val.(string); ok {
			if s == unavailable {
				return nil
			}
			return v.fail(path, n.kind.String()+" or \"unavailable\"", val)
		}
	}
	switch n.kind {
	case kindString, kindTimestamp:
		s, ok := val.(string)
		if !ok {
			return v.fail(path, n.kind.String(), val)
		}
		if n.nonEmpty && s == "" {
			return v.fail(path, "non-empty string", val)
		}
		if n.kind == kindTimestamp {
			if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
				return v.fail(path, n.kind.String(), val)
			}
		}
	case kindNumber:
		if _, ok := val.(float64); !ok {
			return v.fail(path, "number", val)
		}
	case kindArray:
		arr, ok := val.([]any)
		if !ok {
			return v.fail(path, "array", val)
		}
		for i, el := range arr {
			if err := v.check(*n.elem, el, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case kindMap:
		m, ok := val.(map[string]any)
		if !ok {
			return v.fail(path, "map", val)
		}
		for _, k := range sortedKeys(m) {
			if err := v.check(*n.elem, m[k], path+"."+k); err != nil {
				return err
			}
		}
	case kindObject:
		m, ok := val.(map[string]any)
		if !ok {
			return v.fail(path, "object", val)
		}
		names := make([]string, 0, len(n.fields))
		for name := range n.fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			f := n.fields[name]
			fv, present := m[name]
			if !present {
				if f.required {
					return v.fail(path+"."+name, "present "+f.node.kind.String(), absent{})
				}
				continue
			}
			if err := v.check(f.node, fv, path+"."+name); err != nil {
				return err
			}
			if f.node.keysFrom != "" {
				if err := v.checkCoverage(m, name, f.node.keysFrom, path); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkCoverage requires an entry in m[name] for every string in m[from].
func (v validator) checkCoverage(m map[string]any, name, from, path string) error {
	entries, _ := m[name].(map[string]any)
	keys, _ := m[from].([]any)
	for _, k := range keys {
		sym, ok := k.(string)
		if !ok {
			continue
		}
		if _, ok := entries[sym]; !ok {
			return v.fail(path+"."+name+"."+sym, "value or \"unavailable\"", absent{})
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type absent struct{}

func describe(v any) string {
	switch t := v.(type) {
	case absent:
		return "missing"
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("string %q", t)
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
