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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// span is the byte range of a top-level statement in the cell source.
type span struct {
	start, end uint32
}

func spanOf(n *sitter.Node) span {
	return span{start: n.StartByte(), end: n.EndByte()}
}

// codeEnd is the end of n without trailing comments. Under automatic
// semicolon insertion tree-sitter keeps a same-line comment inside the
// declaration node, and text appended after it would be commented out.
func codeEnd(n *sitter.Node) uint32 {
	for i := int(n.ChildCount()) - 1; i >= 0; i-- {
		child := n.Child(i)
		if child.Type() == nodeComment {
			continue
		}
		return codeEnd(child)
	}
	return n.EndByte()
}

// statement is the closed set of top-level statement shapes the transformer
// distinguishes. rewrite switches over it exhaustively.
type statement interface {
	extent() span
}

// declarationStmt is a const/let/var declaration, possibly exported.
type declarationStmt struct {
	span
	text    string
	names   []string
	mutable bool
}

// functionClassStmt is a named function, generator or class declaration,
// possibly exported.
type functionClassStmt struct {
	span
	name string
	text string
}

// sideEffectImportStmt is `import "m";`.
type sideEffectImportStmt struct {
	span
	source string
}

// bindingImportStmt is an import with default, named or namespace specifiers.
type bindingImportStmt struct {
	span
	source      string
	defaultName string
	namespace   string
	named       []specifier
}

// exportListStmt is `export { a, b };` without a source.
type exportListStmt struct {
	span
}

// reexportNamedStmt is `export { a, b as c } from "m";`.
type reexportNamedStmt struct {
	span
	source string
	named  []specifier
}

// exportDefaultStmt is `export default <expr>;`.
type exportDefaultStmt struct {
	span
	expr string
}

// exportNamespaceStmt is `export * as ns from "m";`.
type exportNamespaceStmt struct {
	span
	name   string
	source string
}

// exportAllStmt is `export * from "m";`.
type exportAllStmt struct {
	span
	source string
}

// unhandledStmt is any statement left untouched.
type unhandledStmt struct {
	span
}

func (s span) extent() span { return s }

// specifier is one `imported as local` pair. Both halves hold source text;
// imported may be a string literal (import { "a-b" as x }).
type specifier struct {
	imported string
	local    string
}

// classify maps one top-level node onto a statement variant.
func classify(node *sitter.Node, content []byte) statement {
	sp := spanOf(node)
	switch node.Type() {
	case nodeLexicalDeclaration, nodeVariableDeclaration:
		return classifyDeclaration(sp, node, content)

	case nodeFunctionDeclaration, nodeGeneratorDeclaration, nodeClassDeclaration:
		return classifyFunctionClass(sp, node, content)

	case nodeImportStatement:
		return classifyImport(sp, node, content)

	case nodeExportStatement:
		return classifyExport(sp, node, content)
	}
	return unhandledStmt{span: sp}
}

func classifyDeclaration(sp span, decl *sitter.Node, content []byte) statement {
	mutable := true
	if decl.Type() == nodeLexicalDeclaration {
		if kind := decl.ChildByFieldName(fieldKind); kind != nil && kind.Type() == tokenConst {
			mutable = false
		}
	}
	sp.end = codeEnd(decl)
	return declarationStmt{
		span:    sp,
		text:    string(content[decl.StartByte():sp.end]),
		names:   declaredNames(decl, content),
		mutable: mutable,
	}
}

func classifyFunctionClass(sp span, decl *sitter.Node, content []byte) statement {
	name := decl.ChildByFieldName(fieldName)
	if name == nil {
		return unhandledStmt{span: sp}
	}
	return functionClassStmt{
		span: sp,
		name: name.Content(content),
		text: decl.Content(content),
	}
}

func classifyImport(sp span, node *sitter.Node, content []byte) statement {
	source := node.ChildByFieldName(fieldSource)
	if source == nil {
		return unhandledStmt{span: sp}
	}

	var clause *sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == nodeImportClause {
			clause = child
			break
		}
	}
	if clause == nil {
		return sideEffectImportStmt{span: sp, source: source.Content(content)}
	}

	stmt := bindingImportStmt{span: sp, source: source.Content(content)}
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		child := clause.NamedChild(i)
		switch child.Type() {
		case nodeIdentifier:
			stmt.defaultName = child.Content(content)
		case nodeNamespaceImport:
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if gc := child.NamedChild(j); gc.Type() == nodeIdentifier {
					stmt.namespace = gc.Content(content)
				}
			}
		case nodeNamedImports:
			stmt.named = collectSpecifiers(child, nodeImportSpecifier, content)
		}
	}
	return stmt
}

func classifyExport(sp span, node *sitter.Node, content []byte) statement {
	source := node.ChildByFieldName(fieldSource)
	isDefault := false
	isStar := false
	var clause, namespace *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case tokenDefault:
			isDefault = true
		case tokenStar:
			isStar = true
		case nodeExportClause:
			clause = child
		case nodeNamespaceExport:
			namespace = child
		}
	}

	if decl := node.ChildByFieldName(fieldDeclaration); decl != nil {
		if isDefault {
			return exportDefaultStmt{span: sp, expr: decl.Content(content)}
		}
		// Strip `export` and treat the inline declaration like a bare one.
		inner := classify(decl, content)
		sp.end = codeEnd(node)
		switch s := inner.(type) {
		case declarationStmt:
			s.span = sp
			return s
		case functionClassStmt:
			s.span = sp
			return s
		}
		return unhandledStmt{span: sp}
	}

	if value := node.ChildByFieldName(fieldValue); value != nil && isDefault {
		return exportDefaultStmt{span: sp, expr: value.Content(content)}
	}

	if source != nil {
		src := source.Content(content)
		switch {
		case namespace != nil:
			return exportNamespaceStmt{span: sp, name: lastNamedText(namespace, content), source: src}
		case clause != nil:
			return reexportNamedStmt{span: sp, source: src, named: collectSpecifiers(clause, nodeExportSpecifier, content)}
		case isStar:
			return exportAllStmt{span: sp, source: src}
		}
	}

	if clause != nil {
		return exportListStmt{span: sp}
	}
	return unhandledStmt{span: sp}
}

// collectSpecifiers reads import_specifier / export_specifier children.
func collectSpecifiers(list *sitter.Node, kind string, content []byte) []specifier {
	var out []specifier
	for i := 0; i < int(list.NamedChildCount()); i++ {
		child := list.NamedChild(i)
		if child.Type() != kind {
			continue
		}
		name := child.ChildByFieldName(fieldName)
		if name == nil {
			continue
		}
		spec := specifier{imported: name.Content(content), local: name.Content(content)}
		if alias := child.ChildByFieldName(fieldAlias); alias != nil {
			spec.local = alias.Content(content)
		}
		out = append(out, spec)
	}
	return out
}

func lastNamedText(n *sitter.Node, content []byte) string {
	count := int(n.NamedChildCount())
	if count == 0 {
		return ""
	}
	return n.NamedChild(count - 1).Content(content)
}

// unquote strips the quotes from a JavaScript string literal's source text.
// Escapes are left as written; the result is only used to route imports.
func unquote(literal string) string {
	if len(literal) >= 2 {
		q := literal[0]
		if (q == '"' || q == '\'') && literal[len(literal)-1] == q {
			return literal[1 : len(literal)-1]
		}
	}
	return strings.Trim(literal, `"'`)
}
