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
	sitter "github.com/smacker/go-tree-sitter"
)

// declaredNames returns every name bound by a lexical_declaration or
// variable_declaration node, in source order.
func declaredNames(decl *sitter.Node, content []byte) []string {
	var names []string
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		child := decl.NamedChild(i)
		if child.Type() != nodeVariableDeclarator {
			continue
		}
		names = appendPatternNames(names, child.ChildByFieldName(fieldName), content)
	}
	return names
}

// appendPatternNames walks a binding pattern and appends the local names it
// binds.
//
// Description:
//
//	Handles plain identifiers, object patterns (shorthand, renamed keys,
//	defaults, rest), array patterns (elements, defaults, rest; holes have no
//	node and are skipped naturally) and arbitrary nesting of both. For a
//	renamed key such as { a: renamed } only the local name is collected.
func appendPatternNames(names []string, node *sitter.Node, content []byte) []string {
	if node == nil {
		return names
	}
	switch node.Type() {
	case nodeIdentifier, nodeShorthandPattern:
		return append(names, node.Content(content))

	case nodePairPattern:
		return appendPatternNames(names, node.ChildByFieldName(fieldValue), content)

	case nodeAssignmentPattern, nodeObjectAssignmentPattern:
		return appendPatternNames(names, node.ChildByFieldName(fieldLeft), content)

	case nodeObjectPattern, nodeArrayPattern, nodeRestPattern:
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == nodeComment {
				continue
			}
			names = appendPatternNames(names, child, content)
		}
		return names
	}
	return names
}
