// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType is returned by FromGo for Go types outside the model.
	ErrUnsupportedType = errors.New("unsupported value type")

	// ErrNotSerializable is returned when encoding reaches a Function.
	ErrNotSerializable = errors.New("value is not serializable")

	// ErrCyclic is returned when encoding a value graph that contains a cycle.
	ErrCyclic = errors.New("value graph is cyclic")
)

// ToGo converts v into plain Go data (nil, bool, float64, string, []any,
// map[string]any) suitable for encoding/json.
//
// Functions yield ErrNotSerializable and cycles yield ErrCyclic. Shared
// (acyclic) references are expanded into independent copies.
func ToGo(v Value) (any, error) {
	return toGo(v, make(map[any]bool))
}

func toGo(v Value, path map[any]bool) (any, error) {
	switch t := v.(type) {
	case nil, Null:
		return nil, nil
	case Bool:
		return bool(t), nil
	case Number:
		return float64(t), nil
	case String:
		return string(t), nil
	case *Array:
		if path[t] {
			return nil, ErrCyclic
		}
		path[t] = true
		defer delete(path, t)
		out := make([]any, len(t.Elems))
		for i, e := range t.Elems {
			g, err := toGo(e, path)
			if err != nil {
				return nil, err
			}
			out[i] = g
		}
		return out, nil
	case *Object:
		if path[t] {
			return nil, ErrCyclic
		}
		path[t] = true
		defer delete(path, t)
		out := make(map[string]any, len(t.Fields))
		for k, e := range t.Fields {
			g, err := toGo(e, path)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = g
		}
		return out, nil
	case *Function:
		return nil, fmt.Errorf("%w: function %q", ErrNotSerializable, t.Name)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// MarshalScope encodes s as a JSON object.
func MarshalScope(s Scope) ([]byte, error) {
	out := make(map[string]any, len(s))
	for k, v := range s {
		g, err := ToGo(v)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", k, err)
		}
		out[k] = g
	}
	return json.Marshal(out)
}

// UnmarshalScope decodes a JSON object produced by MarshalScope.
func UnmarshalScope(data []byte) (Scope, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode scope: %w", err)
	}
	out := make(Scope, len(raw))
	for k, g := range raw {
		v, err := FromGo(g)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
