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

// DeepClone returns a structural copy of v that shares no arrays or
// objects with the original.
//
// Description:
//
//	Walks the value graph, copying every array and object. Shared
//	references and cycles are preserved in the copy: if two fields point
//	at the same object in v, both point at the same copy in the result.
//
// Outputs:
//
//	Value - The clone. Only meaningful when ok is true.
//	bool  - False if a Function is reachable from v. Functions cannot be
//	        cloned; this is an expected outcome, not an error.
func DeepClone(v Value) (Value, bool) {
	c := cloner{memo: make(map[any]Value)}
	out := c.clone(v)
	if c.failed {
		return nil, false
	}
	return out, true
}

// CloneScope deep-clones every binding in s.
//
// Returns (nil, false) when any binding reaches a Function.
func CloneScope(s Scope) (Scope, bool) {
	c := cloner{memo: make(map[any]Value)}
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = c.clone(v)
		if c.failed {
			return nil, false
		}
	}
	return out, true
}

type cloner struct {
	memo   map[any]Value
	failed bool
}

func (c *cloner) clone(v Value) Value {
	if c.failed {
		return nil
	}
	switch t := v.(type) {
	case nil:
		return nil
	case Null, Bool, Number, String:
		return t
	case *Array:
		if done, ok := c.memo[t]; ok {
			return done
		}
		out := &Array{Elems: make([]Value, len(t.Elems))}
		c.memo[t] = out
		for i, e := range t.Elems {
			out.Elems[i] = c.clone(e)
		}
		return out
	case *Object:
		if done, ok := c.memo[t]; ok {
			return done
		}
		out := &Object{Fields: make(map[string]Value, len(t.Fields))}
		c.memo[t] = out
		for k, e := range t.Fields {
			out.Fields[k] = c.clone(e)
		}
		return out
	case *Function:
		c.failed = true
		return nil
	}
	c.failed = true
	return nil
}
