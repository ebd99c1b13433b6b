// Package payload selects values out of condition payloads with RFC 9535
// JSONPath expressions.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/theory/jsonpath"
)

// Select evaluates expr against raw and returns the matched nodes as a JSON
// array. Numbers keep their original text.
func Select(raw json.RawMessage, expr string) (json.RawMessage, error) {
	path, err := jsonpath.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", expr, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	nodes := path.Select(doc)
	if nodes == nil {
		nodes = jsonpath.NodeList{}
	}
	out, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("encode selection: %w", err)
	}
	return out, nil
}
