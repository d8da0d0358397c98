package sandbox

import (
	"fmt"
	"strings"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokNewline
	tokIndent
	tokDedent
	tokName
	tokKeyword
	tokInt
	tokFloat
	tokStr
	tokFStr
	tokOp
)

var keywords = map[string]bool{
	"import": true, "from": true, "as": true,
	"if": true, "elif": true, "else": true,
	"for": true, "while": true, "in": true,
	"and": true, "or": true, "not": true, "is": true,
	"raise": true, "pass": true, "break": true, "continue": true,
	"True": true, "False": true, "None": true,
	"lambda": true,
	// Recognized so the parser can reject them with a clear message
	// instead of a generic syntax error.
	"def": true, "class": true, "return": true, "with": true,
	"try": true, "except": true, "finally": true, "yield": true,
	"global": true, "nonlocal": true, "del": true, "assert": true,
	"async": true, "await": true,
}

type token struct {
	kind tokKind
	text string
	line int
}

type syntaxError struct {
	line int
	msg  string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d: %s", e.line, e.msg)
}

// lexer converts script source into a token stream with INDENT/DEDENT
// tokens, the usual approach for indentation-sensitive grammars.
type lexer struct {
	src     string
	pos     int
	line    int
	indents []int
	parens  int
	toks    []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src, line: 1, indents: []int{0}}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.toks, nil
}

func (l *lexer) run() error {
	atLineStart := true
	for l.pos < len(l.src) {
		if atLineStart && l.parens == 0 {
			if err := l.handleIndent(); err != nil {
				return err
			}
			atLineStart = false
			if l.pos >= len(l.src) {
				break
			}
		}

		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.pos++
			l.line++
			if l.parens > 0 {
				continue
			}
			// Collapse blank lines; only emit NEWLINE after real content.
			if n := len(l.toks); n > 0 && l.toks[n-1].kind != tokNewline && l.toks[n-1].kind != tokIndent && l.toks[n-1].kind != tokDedent {
				l.emit(tokNewline, "")
			}
			atLineStart = true
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '\\' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '\n':
			l.pos += 2
			l.line++
		case isNameStart(c):
			if err := l.lexNameOrString(); err != nil {
				return err
			}
		case c >= '0' && c <= '9':
			l.lexNumber()
		case c == '\'' || c == '"':
			if err := l.lexString(false); err != nil {
				return err
			}
		default:
			if err := l.lexOp(); err != nil {
				return err
			}
		}
	}

	if n := len(l.toks); n > 0 && l.toks[n-1].kind != tokNewline {
		l.emit(tokNewline, "")
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(tokDedent, "")
	}
	l.emit(tokEOF, "")
	return nil
}

func (l *lexer) emit(kind tokKind, text string) {
	l.toks = append(l.toks, token{kind: kind, text: text, line: l.line})
}

func (l *lexer) handleIndent() error {
	indent := 0
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ':
			indent++
			l.pos++
		case '\t':
			indent += 8
			l.pos++
		default:
			goto measured
		}
	}
measured:
	// Blank or comment-only lines never affect indentation.
	if l.pos >= len(l.src) || l.src[l.pos] == '\n' || l.src[l.pos] == '#' {
		return nil
	}

	current := l.indents[len(l.indents)-1]
	switch {
	case indent > current:
		l.indents = append(l.indents, indent)
		l.emit(tokIndent, "")
	case indent < current:
		for len(l.indents) > 1 && l.indents[len(l.indents)-1] > indent {
			l.indents = l.indents[:len(l.indents)-1]
			l.emit(tokDedent, "")
		}
		if l.indents[len(l.indents)-1] != indent {
			return &syntaxError{line: l.line, msg: "unindent does not match any outer indentation level"}
		}
	}
	return nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func (l *lexer) lexNameOrString() error {
	start := l.pos
	for l.pos < len(l.src) && isNameChar(l.src[l.pos]) {
		l.pos++
	}
	word := l.src[start:l.pos]

	// String prefixes: f"...", r"...", fr/rf.
	if l.pos < len(l.src) && (l.src[l.pos] == '\'' || l.src[l.pos] == '"') {
		lower := strings.ToLower(word)
		if lower == "f" || lower == "fr" || lower == "rf" {
			return l.lexString(true)
		}
		if lower == "r" || lower == "b" || lower == "rb" || lower == "br" {
			return l.lexString(false)
		}
	}

	if keywords[word] {
		l.emit(tokKeyword, word)
	} else {
		l.emit(tokName, word)
	}
	return nil
}

func (l *lexer) lexNumber() {
	start := l.pos
	isFloat := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c >= '0' && c <= '9' {
			l.pos++
		} else if c == '.' && !isFloat {
			isFloat = true
			l.pos++
		} else if (c == 'e' || c == 'E') && l.pos+1 < len(l.src) {
			next := l.src[l.pos+1]
			if next >= '0' && next <= '9' || next == '-' || next == '+' {
				isFloat = true
				l.pos += 2
			} else {
				break
			}
		} else {
			break
		}
	}
	if isFloat {
		l.emit(tokFloat, l.src[start:l.pos])
	} else {
		l.emit(tokInt, l.src[start:l.pos])
	}
}

func (l *lexer) lexString(isFString bool) error {
	quote := l.src[l.pos]
	triple := strings.HasPrefix(l.src[l.pos:], strings.Repeat(string(quote), 3))
	if triple {
		l.pos += 3
	} else {
		l.pos++
	}

	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if triple {
			if strings.HasPrefix(l.src[l.pos:], strings.Repeat(string(quote), 3)) {
				l.pos += 3
				goto done
			}
		} else if c == quote {
			l.pos++
			goto done
		} else if c == '\n' {
			return &syntaxError{line: l.line, msg: "unterminated string literal"}
		}

		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			esc := l.src[l.pos]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\':
				b.WriteByte('\\')
			case '\'':
				b.WriteByte('\'')
			case '"':
				b.WriteByte('"')
			case '\n':
				l.line++
			default:
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
			l.pos++
			continue
		}
		if c == '\n' {
			l.line++
		}
		b.WriteByte(c)
		l.pos++
	}
	return &syntaxError{line: l.line, msg: "unterminated string literal"}

done:
	if isFString {
		l.emit(tokFStr, b.String())
	} else {
		l.emit(tokStr, b.String())
	}
	return nil
}

var multiCharOps = []string{
	"**", "//", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=",
}

var singleCharOps = "+-*/%<>=()[]{},:.;"

func (l *lexer) lexOp() error {
	rest := l.src[l.pos:]
	for _, op := range multiCharOps {
		if strings.HasPrefix(rest, op) {
			l.emit(tokOp, op)
			l.pos += len(op)
			return nil
		}
	}

	c := l.src[l.pos]
	if strings.IndexByte(singleCharOps, c) < 0 {
		return &syntaxError{line: l.line, msg: fmt.Sprintf("unexpected character %q", string(c))}
	}
	switch c {
	case '(', '[', '{':
		l.parens++
	case ')', ']', '}':
		if l.parens > 0 {
			l.parens--
		}
	}
	l.emit(tokOp, string(c))
	l.pos++
	return nil
}
