package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
)

var (
	ErrNoStructureFound   = errors.New("no json object found in model output")
	ErrMalformedStructure = errors.New("model output contains a malformed json object")
)

// Span returns the greedy object span: everything from the first '{' to the last '}'.
func Span(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return "", ErrNoStructureFound
	}
	return raw[start : end+1], nil
}

// Decode recovers a single record of the given kind from free-form model text.
//
// The greedy span is tried first. When it does not parse (two back-to-back objects,
// or stray braces in the surrounding prose) each balanced top-level object is tried
// in order and the first one that parses wins.
func Decode(raw string, kind analysis.Kind) (analysis.Record, error) {
	span, err := Span(raw)
	if err != nil {
		return analysis.Record{}, err
	}

	rec, spanErr := decodeObject(span, kind)
	if spanErr == nil {
		return rec, nil
	}

	for _, candidate := range balancedObjects(raw) {
		if candidate == span {
			continue
		}
		if rec, err := decodeObject(candidate, kind); err == nil {
			return rec, nil
		}
	}

	return analysis.Record{}, fmt.Errorf("%w: %v", ErrMalformedStructure, spanErr)
}

func decodeObject(body string, kind analysis.Kind) (analysis.Record, error) {
	switch kind {
	case analysis.KindPrescription:
		var p analysis.Prescription
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return analysis.Record{}, err
		}
		return analysis.NewPrescription(p), nil
	case analysis.KindDiagnostic:
		var d analysis.Diagnostic
		if err := json.Unmarshal([]byte(body), &d); err != nil {
			return analysis.Record{}, err
		}
		return analysis.NewDiagnostic(d), nil
	default:
		return analysis.Record{}, fmt.Errorf("unsupported analysis kind %q", kind)
	}
}

// balancedObjects lists every top-level brace-balanced substring, honouring JSON strings
// so braces inside quoted values do not count.
func balancedObjects(raw string) []string {
	var (
		objects  []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)

	for i := 0; i < len(raw); i++ {
		c := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				objects = append(objects, raw[start:i+1])
				start = -1
			}
		}
	}

	return objects
}
