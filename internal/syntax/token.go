// Package syntax turns template source into an abstract syntax tree.
//
// The pipeline is split in two stages. Scan is a pure lexer producing a flat
// token stream; Parse folds that stream into a tree, enforcing block nesting.
// Both stages fail with *errors.QuillError values carrying the byte offset of
// the offending marker.
//
// # Markup
//
//	{path}                       escaped interpolation
//	{{path}}                     raw interpolation
//	{helper(a, "b")}             helper call (also raw with {{ }})
//	{{{ if expr }}}              conditional, with {{{ else if expr }}} / {{{ else }}}
//	{{{ each expr as item, i }}} iteration, {{{ else }}} opens the empty branch
//	{{{ end }}}                  closes the innermost block
//	{{{ import name with path }}} partial inclusion
//
// The comment-style markers <!-- IF -->, <!-- BEGIN -->, <!-- ELSE -->,
// <!-- END -->, <!-- ENDIF --> and <!-- IMPORT --> are accepted as aliases.
// A backslash before an opener emits the opener literally.
package syntax

import "fmt"

// Kind identifies the type of a token.
type Kind int

const (
	TokenText Kind = iota
	TokenInterp
	TokenHelper
	TokenIf
	TokenElseIf
	TokenElse
	TokenEach
	TokenEnd
	TokenImport
	// TokenDirective is a block marker whose keyword is not recognised.
	TokenDirective
)

var kindNames = map[Kind]string{
	TokenText:      "text",
	TokenInterp:    "interp",
	TokenHelper:    "helper",
	TokenIf:        "if",
	TokenElseIf:    "else-if",
	TokenElse:      "else",
	TokenEach:      "each",
	TokenEnd:       "end",
	TokenImport:    "import",
	TokenDirective: "directive",
}

// String returns the string representation of the Kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Token is one lexeme of template source.
type Token struct {
	Kind Kind
	// Value is the literal text for TokenText, the expression source for
	// interpolations and the marker argument for block markers.
	Value string
	// Offset is the byte offset of the token in the source.
	Offset int
	// Name is the marker keyword as written (for example "endif" for a
	// comment-style ENDIF, or the unknown keyword of a TokenDirective).
	Name string
	// Raw marks an unescaped {{ }} interpolation.
	Raw bool
	// Legacy marks a comment-style marker.
	Legacy bool
}

// String returns a short description used in diagnostics.
func (t Token) String() string {
	if t.Value == "" {
		return fmt.Sprintf("%s@%d", t.Kind, t.Offset)
	}

	return fmt.Sprintf("%s(%q)@%d", t.Kind, t.Value, t.Offset)
}
