// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package value defines the closed value model shared between the kernel
// and an evaluator: the binding values that live in a session scope.
//
// The model is intentionally small:
//
//	null | bool | number | string | array | object | function
//
// Arrays, objects and functions are reference values (pointers). Two scopes
// holding the same *Object share it, which is what makes forks shallow.
// Everything else is a plain value type.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies the variant of a Value.
type Kind int

const (
	// KindNull is the absent value.
	KindNull Kind = iota

	// KindBool is a boolean.
	KindBool

	// KindNumber is an IEEE-754 double.
	KindNumber

	// KindString is a UTF-8 string.
	KindString

	// KindArray is an ordered list of values (reference value).
	KindArray

	// KindObject is a string-keyed map of values (reference value).
	KindObject

	// KindFunction is an opaque callable handle owned by the evaluator.
	KindFunction
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Value is any value that can be bound in a session scope.
//
// The set of implementations is closed; external packages cannot add
// variants because isValue is unexported.
type Value interface {
	Kind() Kind
	isValue()
}

// Null is the null value.
type Null struct{}

// Bool is a boolean value.
type Bool bool

// Number is a numeric value.
type Number float64

// String is a string value.
type String string

// Array is an ordered, mutable list of values.
type Array struct {
	Elems []Value
}

// Object is a mutable string-keyed collection of values.
type Object struct {
	Fields map[string]Value
}

// Function is an opaque handle to a callable owned by the evaluator.
//
// Handle is never inspected by the kernel. Functions cannot be cloned or
// serialized, which is what makes a scope snapshot best-effort.
type Function struct {
	Name   string
	Handle any
}

func (Null) Kind() Kind      { return KindNull }
func (Bool) Kind() Kind      { return KindBool }
func (Number) Kind() Kind    { return KindNumber }
func (String) Kind() Kind    { return KindString }
func (*Array) Kind() Kind    { return KindArray }
func (*Object) Kind() Kind   { return KindObject }
func (*Function) Kind() Kind { return KindFunction }

func (Null) isValue()      {}
func (Bool) isValue()      {}
func (Number) isValue()    {}
func (String) isValue()    {}
func (*Array) isValue()    {}
func (*Object) isValue()   {}
func (*Function) isValue() {}

// NewArray returns an array holding elems.
func NewArray(elems ...Value) *Array {
	if elems == nil {
		elems = []Value{}
	}
	return &Array{Elems: elems}
}

// NewObject returns an object holding a copy of fields.
func NewObject(fields map[string]Value) *Object {
	o := &Object{Fields: make(map[string]Value, len(fields))}
	for k, v := range fields {
		o.Fields[k] = v
	}
	return o
}

// NewFunction returns a function handle.
func NewFunction(name string, handle any) *Function {
	return &Function{Name: name, Handle: handle}
}

// FromGo converts plain Go data into the value model.
//
// Supported inputs: nil, bool, string, all integer and float types,
// []any, map[string]any, any Value, and func values (wrapped as a
// Function handle). Anything else is an error.
func FromGo(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Number(t), nil
	case int8:
		return Number(t), nil
	case int16:
		return Number(t), nil
	case int32:
		return Number(t), nil
	case int64:
		return Number(t), nil
	case uint:
		return Number(t), nil
	case uint8:
		return Number(t), nil
	case uint16:
		return Number(t), nil
	case uint32:
		return Number(t), nil
	case uint64:
		return Number(t), nil
	case float32:
		return Number(t), nil
	case float64:
		return Number(t), nil
	case []any:
		arr := &Array{Elems: make([]Value, 0, len(t))}
		for i, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr.Elems = append(arr.Elems, ev)
		}
		return arr, nil
	case map[string]any:
		obj := &Object{Fields: make(map[string]Value, len(t))}
		for k, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			obj.Fields[k] = ev
		}
		return obj, nil
	case func():
		return &Function{Handle: t}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// MustFromGo is FromGo for literals in tests and examples. It panics on error.
func MustFromGo(v any) Value {
	out, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return out
}

// Format renders v as a short, single-line display string.
func Format(v Value) string {
	return format(v, make(map[any]bool))
}

func format(v Value, seen map[any]bool) string {
	switch t := v.(type) {
	case nil, Null:
		return "null"
	case Bool:
		return strconv.FormatBool(bool(t))
	case Number:
		f := float64(t)
		if math.Trunc(f) == f && math.Abs(f) < 1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case String:
		return strconv.Quote(string(t))
	case *Array:
		if seen[t] {
			return "[Circular]"
		}
		seen[t] = true
		defer delete(seen, t)
		out := "["
		for i, e := range t.Elems {
			if i > 0 {
				out += ", "
			}
			out += format(e, seen)
		}
		return out + "]"
	case *Object:
		if seen[t] {
			return "{Circular}"
		}
		seen[t] = true
		defer delete(seen, t)
		keys := make([]string, 0, len(t.Fields))
		for k := range t.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ", "
			}
			out += k + ": " + format(t.Fields[k], seen)
		}
		return out + "}"
	case *Function:
		if t.Name == "" {
			return "[Function (anonymous)]"
		}
		return "[Function " + t.Name + "]"
	}
	return fmt.Sprintf("%v", v)
}
