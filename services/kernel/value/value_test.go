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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepClone_Primitives(t *testing.T) {
	for _, v := range []Value{Null{}, Bool(true), Number(3.5), String("hi")} {
		got, ok := DeepClone(v)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestDeepClone_CopiesReferences(t *testing.T) {
	inner := NewObject(map[string]Value{"n": Number(1)})
	arr := NewArray(inner, String("x"))

	got, ok := DeepClone(arr)
	require.True(t, ok)

	cloned := got.(*Array)
	assert.NotSame(t, arr, cloned)
	assert.NotSame(t, inner, cloned.Elems[0])

	// Mutating the clone leaves the original alone.
	cloned.Elems[0].(*Object).Fields["n"] = Number(2)
	assert.Equal(t, Number(1), inner.Fields["n"])
}

func TestDeepClone_PreservesSharingAndCycles(t *testing.T) {
	shared := NewObject(nil)
	root := NewObject(map[string]Value{"a": shared, "b": shared})
	root.Fields["self"] = root

	got, ok := DeepClone(root)
	require.True(t, ok)

	c := got.(*Object)
	assert.Same(t, c.Fields["a"], c.Fields["b"])
	assert.Same(t, c, c.Fields["self"])
	assert.NotSame(t, shared, c.Fields["a"])
}

func TestDeepClone_FunctionIsNotClonable(t *testing.T) {
	nested := NewObject(map[string]Value{
		"list": NewArray(Number(1), NewFunction("cb", nil)),
	})

	got, ok := DeepClone(nested)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCloneScope(t *testing.T) {
	s := Scope{"a": Number(1), "o": NewObject(map[string]Value{"k": String("v")})}

	c, ok := CloneScope(s)
	require.True(t, ok)
	assert.Equal(t, s.Keys(), c.Keys())
	assert.NotSame(t, s["o"], c["o"])

	s["f"] = NewFunction("f", nil)
	c, ok = CloneScope(s)
	assert.False(t, ok)
	assert.Nil(t, c)
}

func TestScope_CloneIsShallow(t *testing.T) {
	obj := NewObject(nil)
	s := Scope{"o": obj}
	c := s.Clone()

	c["extra"] = Null{}
	assert.False(t, s.Has("extra"))
	assert.Same(t, obj, c["o"])
}

func TestKeySet(t *testing.T) {
	ks := NewKeySet("b", "a")
	ks.Add("c")
	assert.True(t, ks.Has("a"))
	ks.Remove("a")
	assert.False(t, ks.Has("a"))
	assert.Equal(t, []string{"b", "c"}, ks.Sorted())
	assert.Equal(t, 2, ks.Len())

	cp := ks.Clone()
	cp.Add("z")
	assert.False(t, ks.Has("z"))
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"n":    1,
		"s":    "x",
		"list": []any{true, nil, 2.5},
	})
	require.NoError(t, err)

	obj := v.(*Object)
	assert.Equal(t, Number(1), obj.Fields["n"])
	assert.Equal(t, String("x"), obj.Fields["s"])
	assert.Equal(t, []Value{Bool(true), Null{}, Number(2.5)}, obj.Fields["list"].(*Array).Elems)

	_, err = FromGo(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestScopeJSONRoundTrip(t *testing.T) {
	s := Scope{
		"a":    Number(1),
		"name": String("cell"),
		"cfg":  NewObject(map[string]Value{"on": Bool(true), "tags": NewArray(String("x"))}),
		"none": Null{},
	}

	data, err := MarshalScope(s)
	require.NoError(t, err)

	back, err := UnmarshalScope(data)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestMarshalScope_Rejects(t *testing.T) {
	_, err := MarshalScope(Scope{"f": NewFunction("f", nil)})
	assert.ErrorIs(t, err, ErrNotSerializable)

	loop := NewArray()
	loop.Elems = append(loop.Elems, loop)
	_, err = MarshalScope(Scope{"loop": loop})
	assert.ErrorIs(t, err, ErrCyclic)
}

func TestFormat(t *testing.T) {
	obj := NewObject(map[string]Value{"b": Number(2), "a": NewArray(Number(1.5), String("s"))})
	assert.Equal(t, `{a: [1.5, "s"], b: 2}`, Format(obj))
	assert.Equal(t, "[Function f]", Format(NewFunction("f", nil)))
	assert.Equal(t, "null", Format(nil))
}
