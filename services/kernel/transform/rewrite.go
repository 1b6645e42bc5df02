// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultExportName is the scope key that receives `export default` values.
const DefaultExportName = "__default__"

// edit replaces source[start:end] with text. Edits produced for one cell
// never overlap because each comes from a distinct top-level statement.
type edit struct {
	start, end uint32
	text       string
}

// collector accumulates edits and declared names for one Transform call.
type collector struct {
	names       Names
	edits       []edit
	nonMutable  []string
	mutable     []string
	imports     []string
	tempCounter int
}

func (c *collector) replace(sp span, text string) {
	c.edits = append(c.edits, edit{start: sp.start, end: sp.end, text: text})
}

// rewrite records the edit and names for one classified statement.
func (c *collector) rewrite(stmt statement) {
	switch s := stmt.(type) {
	case declarationStmt:
		if len(s.names) == 0 {
			return
		}
		var b strings.Builder
		b.WriteString(s.text)
		if !strings.HasSuffix(strings.TrimSpace(s.text), ";") {
			b.WriteByte(';')
		}
		for _, name := range s.names {
			b.WriteByte(' ')
			b.WriteString(c.publish(name, name))
		}
		c.replace(s.span, b.String())
		if s.mutable {
			c.mutable = append(c.mutable, s.names...)
		} else {
			c.nonMutable = append(c.nonMutable, s.names...)
		}

	case functionClassStmt:
		c.replace(s.span, fmt.Sprintf("%s = %s;", c.member(s.name), s.text))
		c.mutable = append(c.mutable, s.name)

	case sideEffectImportStmt:
		c.replace(s.span, fmt.Sprintf("await %s;", c.importCall(s.source)))

	case bindingImportStmt:
		c.replace(s.span, c.bindingImport(s))

	case exportListStmt:
		c.replace(s.span, "")

	case reexportNamedStmt:
		c.replace(s.span, c.reexportNamed(s))

	case exportDefaultStmt:
		c.replace(s.span, fmt.Sprintf("%s = %s;", c.member(DefaultExportName), trimStatement(s.expr)))
		c.mutable = append(c.mutable, DefaultExportName)

	case exportNamespaceStmt:
		c.replace(s.span, fmt.Sprintf("%s = await %s;", c.member(unquote(s.name)), c.importCall(s.source)))
		c.mutable = append(c.mutable, unquote(s.name))

	case exportAllStmt:
		c.replace(s.span, c.exportAll(s))

	case unhandledStmt:
		// Left verbatim.
	}
}

func (c *collector) bindingImport(s bindingImportStmt) string {
	call := c.importCall(s.source)
	var b strings.Builder

	if s.namespace != "" {
		fmt.Fprintf(&b, "const %s = await %s;", s.namespace, call)
		if s.defaultName != "" {
			fmt.Fprintf(&b, " const %s = %s.default;", s.defaultName, s.namespace)
			b.WriteString(" " + c.publish(s.defaultName, s.defaultName))
			c.nonMutable = append(c.nonMutable, s.defaultName)
		}
		b.WriteString(" " + c.publish(s.namespace, s.namespace))
		c.nonMutable = append(c.nonMutable, s.namespace)
		return b.String()
	}

	var fields []string
	var locals []string
	if s.defaultName != "" {
		fields = append(fields, "default: "+s.defaultName)
		locals = append(locals, s.defaultName)
	}
	for _, spec := range s.named {
		fields = append(fields, destructureField(spec))
		locals = append(locals, spec.local)
	}
	if len(fields) == 0 {
		// `import {} from "m"` still loads the module.
		return fmt.Sprintf("await %s;", call)
	}

	fmt.Fprintf(&b, "const { %s } = await %s;", strings.Join(fields, ", "), call)
	for _, local := range locals {
		b.WriteString(" " + c.publish(local, local))
	}
	c.nonMutable = append(c.nonMutable, locals...)
	return b.String()
}

func (c *collector) reexportNamed(s reexportNamedStmt) string {
	call := c.importCall(s.source)
	var b strings.Builder
	var fields []string
	var published []string
	var literalTargets []specifier

	for _, spec := range s.named {
		local := unquote(spec.local)
		switch {
		case local == "default":
			fields = append(fields, fmt.Sprintf("%s: %s", spec.imported, DefaultExportName))
			c.mutable = append(c.mutable, DefaultExportName)
			published = append(published, DefaultExportName)
		case IsValidIdentifier(spec.local):
			fields = append(fields, destructureField(specifier{imported: spec.imported, local: spec.local}))
			c.nonMutable = append(c.nonMutable, spec.local)
			published = append(published, spec.local)
		default:
			literalTargets = append(literalTargets, spec)
		}
	}

	if len(literalTargets) > 0 {
		tmp := c.temp("reexport")
		fmt.Fprintf(&b, "const %s = await %s;", tmp, call)
		if len(fields) > 0 {
			fmt.Fprintf(&b, " const { %s } = %s;", strings.Join(fields, ", "), tmp)
		}
		for _, spec := range literalTargets {
			target := unquote(spec.local)
			fmt.Fprintf(&b, " %s = %s[%s];", c.member(target), tmp, strconv.Quote(unquote(spec.imported)))
			c.nonMutable = append(c.nonMutable, target)
		}
	} else if len(fields) > 0 {
		fmt.Fprintf(&b, "const { %s } = await %s;", strings.Join(fields, ", "), call)
	} else {
		fmt.Fprintf(&b, "await %s;", call)
	}
	for _, name := range published {
		b.WriteString(" " + c.publish(name, name))
	}
	return b.String()
}

func (c *collector) exportAll(s exportAllStmt) string {
	mod := c.temp("mod")
	key := c.temp("key")
	exports := c.names.Exports
	return fmt.Sprintf(
		"{ const %[1]s = await %[2]s; "+
			"for (const %[3]s of Object.keys(%[1]s)) { "+
			"if (%[3]s === \"default\") continue; "+
			"if (Object.prototype.hasOwnProperty.call(%[4]s, %[3]s)) "+
			"console.warn(\"export * from \" + %[5]s + \": '\" + %[3]s + \"' is already exported and will be overwritten\"); "+
			"%[4]s[%[3]s] = %[1]s[%[3]s]; } }",
		mod, c.importCall(s.source), key, exports, strconv.Quote(unquote(s.source)),
	)
}

// publish returns `scope.<target> = <local>;`.
func (c *collector) publish(target, local string) string {
	return fmt.Sprintf("%s = %s;", c.member(target), local)
}

// member returns the scope property access for name.
func (c *collector) member(name string) string {
	if IsValidIdentifier(name) {
		return c.names.Scope + "." + name
	}
	return c.names.Scope + "[" + strconv.Quote(name) + "]"
}

// importCall routes a module specifier literal to the right hook.
func (c *collector) importCall(sourceLiteral string) string {
	spec := unquote(sourceLiteral)
	c.imports = append(c.imports, spec)
	hook := c.names.ImportHook
	if IsLocalSpecifier(spec) {
		hook = c.names.SandboxImportHook
	}
	return fmt.Sprintf("%s(%s)", hook, sourceLiteral)
}

func (c *collector) temp(prefix string) string {
	c.tempCounter++
	return fmt.Sprintf("__%s%d__", prefix, c.tempCounter)
}

// splice applies the collected edits to source in ascending start order,
// copying untouched spans verbatim.
func (c *collector) splice(source []byte) string {
	sort.Slice(c.edits, func(i, j int) bool { return c.edits[i].start < c.edits[j].start })

	var b strings.Builder
	b.Grow(len(source) + 64*len(c.edits))
	var cursor uint32
	for _, e := range c.edits {
		b.Write(source[cursor:e.start])
		b.WriteString(e.text)
		cursor = e.end
	}
	b.Write(source[cursor:])
	return b.String()
}

// destructureField renders one destructuring property for a specifier.
func destructureField(spec specifier) string {
	if spec.imported == spec.local {
		return spec.local
	}
	return spec.imported + ": " + spec.local
}

// IsLocalSpecifier reports whether a module specifier addresses the
// session's sandbox rather than a bare package.
func IsLocalSpecifier(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/")
}

// trimStatement drops a trailing semicolon from an expression's text.
func trimStatement(expr string) string {
	return strings.TrimSuffix(strings.TrimSpace(expr), ";")
}

// dedupe keeps the first occurrence of every name.
func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
