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
	"errors"
	"fmt"
)

var (
	// ErrSourceTooLarge indicates the cell exceeds the configured size limit.
	ErrSourceTooLarge = errors.New("cell source too large")

	// ErrParse is matched by every *ParseError via errors.Is.
	ErrParse = errors.New("parse error")
)

// ParseError reports a cell that is not syntactically valid.
//
// A ParseError is always returned instead of a partial result; a malformed
// cell never silently turns into a no-op.
//
// Example:
//
//	_, err := transform.Transform("const x = {;")
//	var perr *transform.ParseError
//	if errors.As(err, &perr) {
//	    fmt.Println(perr.Line, perr.Column)
//	}
type ParseError struct {
	// Line is the 1-indexed line of the first syntax error, 0 if unknown.
	Line int

	// Column is the 1-indexed column of the first syntax error, 0 if unknown.
	Column int

	// Message describes the problem.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the message prefixed with "Parse error: ".
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("Parse error: %s (%d:%d)", e.Message, e.Line, e.Column)
	}
	return "Parse error: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
