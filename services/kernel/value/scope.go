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

import "sort"

// Scope maps binding names to their current values.
//
// A Scope is a Go map and therefore a reference: handing it to an evaluator
// lets the evaluator publish bindings that the kernel observes afterwards.
type Scope map[string]Value

// Clone returns a shallow copy. Reference values stay shared.
func (s Scope) Clone() Scope {
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the binding names in sorted order.
func (s Scope) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether name is bound.
func (s Scope) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// KeySet is a set of binding names.
type KeySet map[string]struct{}

// NewKeySet returns a set containing names.
func NewKeySet(names ...string) KeySet {
	ks := make(KeySet, len(names))
	for _, n := range names {
		ks[n] = struct{}{}
	}
	return ks
}

// Add inserts names into the set.
func (ks KeySet) Add(names ...string) {
	for _, n := range names {
		ks[n] = struct{}{}
	}
}

// Has reports whether name is in the set.
func (ks KeySet) Has(name string) bool {
	_, ok := ks[name]
	return ok
}

// Remove deletes name from the set.
func (ks KeySet) Remove(name string) {
	delete(ks, name)
}

// Len returns the number of names.
func (ks KeySet) Len() int {
	return len(ks)
}

// Clone returns a copy of the set.
func (ks KeySet) Clone() KeySet {
	out := make(KeySet, len(ks))
	for k := range ks {
		out[k] = struct{}{}
	}
	return out
}

// Sorted returns the names in sorted order.
func (ks KeySet) Sorted() []string {
	out := make([]string, 0, len(ks))
	for k := range ks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
