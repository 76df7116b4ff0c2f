package syntax

import (
	"strings"

	qerrors "github.com/conneroisu/quill/internal/errors"
)

// escapable openers, longest first.
var escapable = []string{"{{{", "{{", "{", "<!--"}

var legacyKeywords = map[string]bool{
	"IF":     true,
	"BEGIN":  true,
	"ELSE":   true,
	"END":    true,
	"ENDIF":  true,
	"IMPORT": true,
}

// Scan tokenizes template source. Adjacent literal text is merged into a
// single TokenText. On failure no tokens are returned.
func Scan(src string) ([]Token, error) {
	l := &lexer{src: src}
	if err := l.run(); err != nil {
		return nil, err
	}

	return l.tokens, nil
}

type lexer struct {
	src       string
	tokens    []Token
	textStart int
}

func (l *lexer) run() error {
	i := 0
	for i < len(l.src) {
		switch c := l.src[i]; {
		case c == '\\':
			if opener := escapedOpener(l.src, i+1); opener != "" {
				l.flushText(i)
				l.emitText(opener, i)
				i += 1 + len(opener)
				l.textStart = i
				continue
			}
			i++

		case c == '{':
			tok, n, err := l.brace(i)
			if err != nil {
				return err
			}
			if n == 0 {
				i++
				continue
			}
			l.flushText(i)
			l.tokens = append(l.tokens, tok)
			i += n
			l.textStart = i

		case c == '<' && strings.HasPrefix(l.src[i:], "<!--"):
			tok, n, err := l.legacy(i)
			if err != nil {
				return err
			}
			if n == 0 {
				i += len("<!--")
				continue
			}
			l.flushText(i)
			l.tokens = append(l.tokens, tok)
			i += n
			l.textStart = i

		default:
			i++
		}
	}
	l.flushText(len(l.src))

	return nil
}

func escapedOpener(src string, at int) string {
	for _, opener := range escapable {
		if strings.HasPrefix(src[at:], opener) {
			return opener
		}
	}

	return ""
}

func (l *lexer) flushText(end int) {
	if end > l.textStart {
		l.emitText(l.src[l.textStart:end], l.textStart)
	}
	l.textStart = end
}

func (l *lexer) emitText(text string, offset int) {
	if n := len(l.tokens); n > 0 && l.tokens[n-1].Kind == TokenText {
		l.tokens[n-1].Value += text
		return
	}
	l.tokens = append(l.tokens, Token{Kind: TokenText, Value: text, Offset: offset})
}

// brace lexes a marker starting with '{'. It returns n == 0 when the brace
// is literal text.
func (l *lexer) brace(at int) (Token, int, error) {
	if strings.HasPrefix(l.src[at:], "{{{") {
		return l.block(at)
	}
	if strings.HasPrefix(l.src[at:], "{{") {
		tok, n, err := l.interp(at, true)
		if err != nil || n > 0 {
			return tok, n, err
		}
	}

	return l.interp(at, false)
}

func (l *lexer) interp(at int, raw bool) (Token, int, error) {
	open, closer := "{", "}"
	if raw {
		open, closer = "{{", "}}"
	}

	start := skipSpace(l.src, at+len(open))
	e, end, ok := scanExpression(l.src, start)
	if !ok {
		return Token{}, 0, nil
	}
	after := skipSpace(l.src, end)
	if after == len(l.src) {
		return Token{}, 0, qerrors.NewSyntaxError(qerrors.ErrCodeUnterminated, at,
			"unterminated interpolation marker")
	}
	if !strings.HasPrefix(l.src[after:], closer) {
		return Token{}, 0, nil
	}

	kind := TokenInterp
	if _, isHelper := e.(*HelperExpr); isHelper {
		kind = TokenHelper
	}

	return Token{
		Kind:   kind,
		Value:  l.src[start:end],
		Offset: at,
		Raw:    raw,
	}, after + len(closer) - at, nil
}

// block lexes a {{{ ... }}} marker. Every unescaped {{{ must be closed.
func (l *lexer) block(at int) (Token, int, error) {
	bodyStart := at + len("{{{")
	closeAt := findCloser(l.src, bodyStart, "}}}")
	if closeAt < 0 {
		return Token{}, 0, qerrors.NewSyntaxError(qerrors.ErrCodeUnterminated, at,
			"unterminated block marker")
	}
	body := strings.TrimSpace(l.src[bodyStart:closeAt])
	n := closeAt + len("}}}") - at

	keyword, rest := splitKeyword(body)
	tok := Token{Offset: at, Name: keyword, Value: rest}

	switch keyword {
	case "if":
		tok.Kind = TokenIf
	case "each":
		tok.Kind = TokenEach
	case "import":
		tok.Kind = TokenImport
	case "else":
		switch elseKw, elseRest := splitKeyword(rest); {
		case rest == "":
			tok.Kind = TokenElse
		case elseKw == "if":
			tok.Kind = TokenElseIf
			tok.Value = elseRest
		default:
			tok.Kind = TokenDirective
			tok.Value = body
		}
	case "end":
		if rest != "" {
			tok.Kind = TokenDirective
			tok.Value = body
			break
		}
		tok.Kind = TokenEnd
	default:
		tok.Kind = TokenDirective
		tok.Value = body
	}

	return tok, n, nil
}

// legacy lexes a comment-style marker. Comments that do not start with a
// marker keyword are literal text.
func (l *lexer) legacy(at int) (Token, int, error) {
	kwStart := skipSpace(l.src, at+len("<!--"))
	kwEnd := kwStart
	for kwEnd < len(l.src) && l.src[kwEnd] >= 'A' && l.src[kwEnd] <= 'Z' {
		kwEnd++
	}
	keyword := l.src[kwStart:kwEnd]
	if !legacyKeywords[keyword] {
		return Token{}, 0, nil
	}
	if kwEnd < len(l.src) && !isSpace(l.src[kwEnd]) && !strings.HasPrefix(l.src[kwEnd:], "-->") {
		return Token{}, 0, nil
	}

	closeAt := findCloser(l.src, kwEnd, "-->")
	if closeAt < 0 {
		return Token{}, 0, qerrors.NewSyntaxError(qerrors.ErrCodeUnterminated, at,
			"unterminated "+keyword+" marker")
	}
	rest := strings.TrimSpace(l.src[kwEnd:closeAt])
	n := closeAt + len("-->") - at
	tok := Token{Offset: at, Legacy: true, Value: rest, Name: strings.ToLower(keyword)}

	switch keyword {
	case "IF":
		tok.Kind = TokenIf
	case "BEGIN":
		tok.Kind = TokenEach
	case "IMPORT":
		tok.Kind = TokenImport
	case "ELSE":
		if rest != "" {
			return Token{}, 0, nil
		}
		tok.Kind = TokenElse
	case "END", "ENDIF":
		tok.Kind = TokenEnd
	}

	return tok, n, nil
}

// findCloser returns the offset of closer at or after from, skipping over
// string literals so that quoted closers do not end the marker.
func findCloser(src string, from int, closer string) int {
	inString := false
	for i := from; i < len(src); i++ {
		c := src[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		if strings.HasPrefix(src[i:], closer) {
			return i
		}
	}
	if inString {
		// An unbalanced quote does not hide a closer.
		if idx := strings.Index(src[from:], closer); idx >= 0 {
			return from + idx
		}
	}

	return -1
}

func splitKeyword(body string) (string, string) {
	end := 0
	for end < len(body) && !isSpace(body[end]) {
		end++
	}

	return body[:end], strings.TrimSpace(body[end:])
}

func skipSpace(src string, i int) int {
	for i < len(src) && isSpace(src[i]) {
		i++
	}

	return i
}
