// Package errors defines the error taxonomy shared by the compiler pipeline,
// the template registry and the render runtime.
//
// Every failure surfaced by quill is a *QuillError carrying a Type that
// identifies the stage that failed (lexing, parsing, code generation, render)
// and enough location information to point an author at the offending
// markup. Missing template data is never an error.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeSyntax          ErrorType = "syntax"
	ErrorTypeParse           ErrorType = "parse"
	ErrorTypeCompile         ErrorType = "compile"
	ErrorTypeHelperNotFound  ErrorType = "helper_not_found"
	ErrorTypePartialNotFound ErrorType = "partial_not_found"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeRender          ErrorType = "render"
	ErrorTypeIO              ErrorType = "io"
	ErrorTypeConfig          ErrorType = "config"
	ErrorTypeInternal        ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeUnterminated     = "unterminated_marker"
	ErrCodeMismatchedBlock  = "mismatched_block"
	ErrCodeUnclosedBlock    = "unclosed_block"
	ErrCodeUnexpectedClose  = "unexpected_close"
	ErrCodeUnexpectedElse   = "unexpected_else"
	ErrCodeUnknownDirective = "unknown_directive"
	ErrCodeInvalidSubject   = "invalid_subject"
	ErrCodeImportCycle      = "import_cycle"
	ErrCodeHelperArity      = "helper_arity"
	ErrCodeHelperFailed     = "helper_failed"
	ErrCodeIncludeDepth     = "include_depth"
	ErrCodeTemplateNotFound = "template_not_found"
	ErrCodeInvalidPath      = "invalid_path"
	ErrCodeConfigInvalid    = "config_invalid"
	ErrCodeBundleInvalid    = "bundle_invalid"
)

// QuillError is a structured error type with context.
type QuillError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	Template string
	Offset   int
	Line     int
	Column   int
	// Chain is the offending template chain of an import cycle, first
	// element repeated at the end.
	Chain []string
}

// Error implements the error interface.
func (e *QuillError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Template != "" {
		location := e.Template
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	} else if e.Type == ErrorTypeSyntax || e.Type == ErrorTypeParse {
		parts = append(parts, fmt.Sprintf("offset %d", e.Offset))
	}

	parts = append(parts, e.Message)

	if len(e.Chain) > 0 {
		parts = append(parts, "("+strings.Join(e.Chain, " -> ")+")")
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *QuillError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *QuillError) Is(target error) bool {
	var t *QuillError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *QuillError) WithContext(key string, value interface{}) *QuillError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithTemplate records the template the error belongs to. It does not
// overwrite a name that is already set, so the innermost template wins
// when errors bubble up through partials.
func (e *QuillError) WithTemplate(name string) *QuillError {
	if e.Template == "" {
		e.Template = name
	}

	return e
}

// WithLocation resolves the byte offset of the error against source and
// records the 1-based line and column.
func (e *QuillError) WithLocation(source string) *QuillError {
	if e.Offset < 0 || e.Offset > len(source) {
		return e
	}
	e.Line, e.Column = Position(source, e.Offset)

	return e
}

// Position converts a byte offset into a 1-based line and column.
func Position(source string, offset int) (int, int) {
	if offset > len(source) {
		offset = len(source)
	}
	line := 1 + strings.Count(source[:offset], "\n")
	col := offset + 1
	if i := strings.LastIndexByte(source[:offset], '\n'); i >= 0 {
		col = offset - i
	}

	return line, col
}

// Error creation functions

// NewSyntaxError creates a lexing error at a source offset.
func NewSyntaxError(code string, offset int, message string) *QuillError {
	return &QuillError{
		Type:    ErrorTypeSyntax,
		Code:    code,
		Message: message,
		Offset:  offset,
	}
}

// NewParseError creates a structural error at a source offset.
func NewParseError(code string, offset int, message string) *QuillError {
	return &QuillError{
		Type:    ErrorTypeParse,
		Code:    code,
		Message: message,
		Offset:  offset,
	}
}

// NewCompileError creates a code generation error. chain names the
// templates involved, if any.
func NewCompileError(code, message string, chain ...string) *QuillError {
	return &QuillError{
		Type:    ErrorTypeCompile,
		Code:    code,
		Message: message,
		Chain:   chain,
	}
}

// NewHelperNotFoundError creates the render-time error raised for an
// unresolved helper name.
func NewHelperNotFoundError(name string) *QuillError {
	return &QuillError{
		Type:    ErrorTypeHelperNotFound,
		Code:    "helper_not_found",
		Message: fmt.Sprintf("helper %q is not registered", name),
	}
}

// NewPartialNotFoundError creates the render-time error raised when a
// referenced partial is neither cached nor loadable.
func NewPartialNotFoundError(name string) *QuillError {
	return &QuillError{
		Type:    ErrorTypePartialNotFound,
		Code:    "partial_not_found",
		Message: fmt.Sprintf("partial %q not found", name),
	}
}

// NewNotFoundError creates an error for a template that has no source.
func NewNotFoundError(name string, cause error) *QuillError {
	return &QuillError{
		Type:     ErrorTypeNotFound,
		Code:     ErrCodeTemplateNotFound,
		Message:  fmt.Sprintf("template %q not found", name),
		Template: name,
		Cause:    cause,
	}
}

// NewRenderError creates a render-time failure.
func NewRenderError(code, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeRender,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *QuillError {
	return &QuillError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Classification helpers

// TypeOf returns the ErrorType of err, or "" when err is not a QuillError.
func TypeOf(err error) ErrorType {
	var qe *QuillError
	if errors.As(err, &qe) {
		return qe.Type
	}

	return ""
}

// IsSyntaxError reports whether err is a lexing failure.
func IsSyntaxError(err error) bool { return TypeOf(err) == ErrorTypeSyntax }

// IsParseError reports whether err is a structural parse failure.
func IsParseError(err error) bool { return TypeOf(err) == ErrorTypeParse }

// IsCompileError reports whether err is a code generation failure.
func IsCompileError(err error) bool { return TypeOf(err) == ErrorTypeCompile }

// IsHelperNotFound reports whether err is an unresolved helper.
func IsHelperNotFound(err error) bool { return TypeOf(err) == ErrorTypeHelperNotFound }

// IsPartialNotFound reports whether err is a missing partial.
func IsPartialNotFound(err error) bool { return TypeOf(err) == ErrorTypePartialNotFound }

// IsNotFound reports whether err is a missing top-level template.
func IsNotFound(err error) bool { return TypeOf(err) == ErrorTypeNotFound }

// IsCompileTime reports whether err was produced while compiling, as
// opposed to while rendering.
func IsCompileTime(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeSyntax, ErrorTypeParse, ErrorTypeCompile:
		return true
	}

	return false
}
