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

// JavaScript tree-sitter node types and field names read by the transformer.
//
// Only the shapes of top-level statements and binding patterns matter here;
// expression nodes are copied as source text and never inspected.
//
// Reference: https://github.com/tree-sitter/tree-sitter-javascript
const (
	// Declarations
	nodeLexicalDeclaration   = "lexical_declaration"
	nodeVariableDeclaration  = "variable_declaration"
	nodeVariableDeclarator   = "variable_declarator"
	nodeFunctionDeclaration  = "function_declaration"
	nodeGeneratorDeclaration = "generator_function_declaration"
	nodeClassDeclaration     = "class_declaration"

	// Modules
	nodeImportStatement = "import_statement"
	nodeImportClause    = "import_clause"
	nodeNamespaceImport = "namespace_import"
	nodeNamedImports    = "named_imports"
	nodeImportSpecifier = "import_specifier"
	nodeExportStatement = "export_statement"
	nodeExportClause    = "export_clause"
	nodeExportSpecifier = "export_specifier"
	nodeNamespaceExport = "namespace_export"

	// Patterns
	nodeIdentifier              = "identifier"
	nodeObjectPattern           = "object_pattern"
	nodeArrayPattern            = "array_pattern"
	nodeAssignmentPattern       = "assignment_pattern"
	nodeObjectAssignmentPattern = "object_assignment_pattern"
	nodePairPattern             = "pair_pattern"
	nodeRestPattern             = "rest_pattern"
	nodeShorthandPattern        = "shorthand_property_identifier_pattern"
	nodeComment                 = "comment"

	// Anonymous tokens
	tokenConst   = "const"
	tokenDefault = "default"
	tokenStar    = "*"
)

// Field names.
const (
	fieldName        = "name"
	fieldAlias       = "alias"
	fieldKind        = "kind"
	fieldSource      = "source"
	fieldDeclaration = "declaration"
	fieldValue       = "value"
	fieldLeft        = "left"
)
