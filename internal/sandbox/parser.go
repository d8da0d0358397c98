package sandbox

import (
	"fmt"
	"strconv"
	"strings"
)

// parse turns script source into a statement list. Errors carry the line
// number of the offending token.
func parse(src string) ([]stmt, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseBlock(false)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) at(kind tokKind, text string) bool {
	t := p.cur()
	return t.kind == kind && (text == "" || t.text == text)
}

func (p *parser) accept(kind tokKind, text string) bool {
	if p.at(kind, text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokKind, text string) (token, error) {
	if !p.at(kind, text) {
		t := p.cur()
		want := text
		if want == "" {
			want = kindName(kind)
		}
		return token{}, &syntaxError{line: t.line, msg: fmt.Sprintf("expected %q, got %q", want, tokenDesc(t))}
	}
	return p.next(), nil
}

func kindName(kind tokKind) string {
	switch kind {
	case tokNewline:
		return "newline"
	case tokIndent:
		return "indented block"
	case tokDedent:
		return "dedent"
	case tokName:
		return "identifier"
	default:
		return "token"
	}
}

func tokenDesc(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of script"
	case tokNewline:
		return "newline"
	case tokIndent:
		return "indent"
	case tokDedent:
		return "dedent"
	default:
		return t.text
	}
}

var unsupportedKeywords = map[string]string{
	"def":      "function definitions are not supported",
	"class":    "class definitions are not supported",
	"return":   "return outside function",
	"with":     "with statements are not supported",
	"try":      "try/except is not supported",
	"except":   "try/except is not supported",
	"finally":  "try/except is not supported",
	"yield":    "yield is not supported",
	"global":   "global declarations are not supported",
	"nonlocal": "nonlocal declarations are not supported",
	"del":      "del statements are not supported",
	"assert":   "assert statements are not supported",
	"async":    "async is not supported",
	"await":    "await is not supported",
}

// parseBlock reads statements until DEDENT (nested=true) or EOF.
func (p *parser) parseBlock(nested bool) ([]stmt, error) {
	var stmts []stmt
	for {
		if nested && p.accept(tokDedent, "") {
			return stmts, nil
		}
		if p.at(tokEOF, "") {
			if nested {
				return nil, &syntaxError{line: p.cur().line, msg: "unexpected end of script"}
			}
			return stmts, nil
		}
		if p.accept(tokNewline, "") {
			continue
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s...)
	}
}

// parseStmt parses one logical line, which may hold several simple
// statements joined with semicolons.
func (p *parser) parseStmt() ([]stmt, error) {
	t := p.cur()
	if t.kind == tokKeyword {
		if msg, bad := unsupportedKeywords[t.text]; bad {
			return nil, &syntaxError{line: t.line, msg: msg}
		}
		switch t.text {
		case "if":
			s, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			return []stmt{s}, nil
		case "for":
			s, err := p.parseFor()
			if err != nil {
				return nil, err
			}
			return []stmt{s}, nil
		case "while":
			s, err := p.parseWhile()
			if err != nil {
				return nil, err
			}
			return []stmt{s}, nil
		}
	}

	var stmts []stmt
	for {
		s, err := p.parseSimpleStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		if !p.accept(tokOp, ";") {
			break
		}
		if p.at(tokNewline, "") || p.at(tokEOF, "") {
			break
		}
	}
	if !p.accept(tokNewline, "") && !p.at(tokEOF, "") && !p.at(tokDedent, "") {
		t := p.cur()
		return nil, &syntaxError{line: t.line, msg: fmt.Sprintf("unexpected %q", tokenDesc(t))}
	}
	return stmts, nil
}

func (p *parser) parseSimpleStmt() (stmt, error) {
	t := p.cur()
	if t.kind == tokKeyword {
		switch t.text {
		case "import":
			return p.parseImport()
		case "from":
			return p.parseFromImport()
		case "raise":
			return p.parseRaise()
		case "pass":
			p.next()
			return &passStmt{pos{t.line}}, nil
		case "break":
			p.next()
			return &breakStmt{pos{t.line}}, nil
		case "continue":
			p.next()
			return &continueStmt{pos{t.line}}, nil
		}
	}
	return p.parseAssignOrExpr()
}

func (p *parser) parseImport() (stmt, error) {
	t := p.next() // import
	s := &importStmt{pos: pos{t.line}}
	for {
		mod, err := p.parseDottedName()
		if err != nil {
			return nil, err
		}
		im := importedModule{name: mod}
		if p.accept(tokKeyword, "as") {
			alias, err := p.expect(tokName, "")
			if err != nil {
				return nil, err
			}
			im.alias = alias.text
		}
		s.modules = append(s.modules, im)
		if !p.accept(tokOp, ",") {
			break
		}
	}
	return s, nil
}

func (p *parser) parseFromImport() (stmt, error) {
	t := p.next() // from
	mod, err := p.parseDottedName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokKeyword, "import"); err != nil {
		return nil, err
	}
	s := &fromImportStmt{pos: pos{t.line}, module: mod}
	if p.accept(tokOp, "*") {
		s.names = append(s.names, importedModule{name: "*"})
		return s, nil
	}
	for {
		name, err := p.expect(tokName, "")
		if err != nil {
			return nil, err
		}
		im := importedModule{name: name.text}
		if p.accept(tokKeyword, "as") {
			alias, err := p.expect(tokName, "")
			if err != nil {
				return nil, err
			}
			im.alias = alias.text
		}
		s.names = append(s.names, im)
		if !p.accept(tokOp, ",") {
			break
		}
	}
	return s, nil
}

func (p *parser) parseDottedName() (string, error) {
	first, err := p.expect(tokName, "")
	if err != nil {
		return "", err
	}
	parts := []string{first.text}
	for p.accept(tokOp, ".") {
		next, err := p.expect(tokName, "")
		if err != nil {
			return "", err
		}
		parts = append(parts, next.text)
	}
	return strings.Join(parts, "."), nil
}

func (p *parser) parseRaise() (stmt, error) {
	t := p.next() // raise
	s := &raiseStmt{pos: pos{t.line}}
	if !p.at(tokNewline, "") && !p.at(tokEOF, "") && !p.at(tokOp, ";") {
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		s.value = v
	}
	return s, nil
}

func (p *parser) parseAssignOrExpr() (stmt, error) {
	t := p.cur()
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	// Tuple assignment: a, b = expr
	if p.at(tokOp, ",") {
		targets := []expr{first}
		for p.accept(tokOp, ",") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			targets = append(targets, e)
		}
		if p.accept(tokOp, "=") {
			for _, tgt := range targets {
				if _, ok := tgt.(*nameExpr); !ok {
					return nil, &syntaxError{line: tgt.Line(), msg: "invalid assignment target"}
				}
			}
			value, err := p.parseExprOrTuple()
			if err != nil {
				return nil, err
			}
			return &tupleAssignStmt{pos: pos{t.line}, targets: targets, value: value}, nil
		}
		return &exprStmt{pos: pos{t.line}, value: &tupleLit{pos: pos{t.line}, elems: targets}}, nil
	}

	for _, op := range []string{"+=", "-=", "*=", "/="} {
		if p.accept(tokOp, op) {
			if !validTarget(first) {
				return nil, &syntaxError{line: first.Line(), msg: "invalid assignment target"}
			}
			value, err := p.parseExprOrTuple()
			if err != nil {
				return nil, err
			}
			return &augAssignStmt{pos: pos{t.line}, target: first, op: op[:1], value: value}, nil
		}
	}

	if p.accept(tokOp, "=") {
		if !validTarget(first) {
			return nil, &syntaxError{line: first.Line(), msg: "invalid assignment target"}
		}
		value, err := p.parseExprOrTuple()
		if err != nil {
			return nil, err
		}
		return &assignStmt{pos: pos{t.line}, target: first, value: value}, nil
	}

	return &exprStmt{pos: pos{t.line}, value: first}, nil
}

func validTarget(e expr) bool {
	switch e.(type) {
	case *nameExpr, *attrExpr, *indexExpr:
		return true
	}
	return false
}

// parseExprOrTuple handles bare tuples on the right of assignments:
// a, b = b, a
func (p *parser) parseExprOrTuple() (expr, error) {
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.at(tokOp, ",") {
		return first, nil
	}
	elems := []expr{first}
	for p.accept(tokOp, ",") {
		if p.at(tokNewline, "") || p.at(tokEOF, "") {
			break
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return &tupleLit{pos: pos{first.Line()}, elems: elems}, nil
}

func (p *parser) parseIf() (stmt, error) {
	t := p.next() // if or elif
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	s := &ifStmt{pos: pos{t.line}, cond: cond, body: body}

	if p.at(tokKeyword, "elif") {
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		s.orelse = []stmt{nested}
	} else if p.accept(tokKeyword, "else") {
		orelse, err := p.parseSuite()
		if err != nil {
			return nil, err
		}
		s.orelse = orelse
	}
	return s, nil
}

func (p *parser) parseFor() (stmt, error) {
	t := p.next() // for
	targets, err := p.parseForTargets()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokKeyword, "in"); err != nil {
		return nil, err
	}
	iter, err := p.parseExprOrTuple()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &forStmt{pos: pos{t.line}, targets: targets, iter: iter, body: body}, nil
}

func (p *parser) parseForTargets() ([]string, error) {
	paren := p.accept(tokOp, "(")
	var targets []string
	for {
		name, err := p.expect(tokName, "")
		if err != nil {
			return nil, err
		}
		targets = append(targets, name.text)
		if !p.accept(tokOp, ",") {
			break
		}
	}
	if paren {
		if _, err := p.expect(tokOp, ")"); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

func (p *parser) parseWhile() (stmt, error) {
	t := p.next() // while
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &whileStmt{pos: pos{t.line}, cond: cond, body: body}, nil
}

// parseSuite parses ": NEWLINE INDENT block DEDENT" or the inline form
// ": simple_stmt".
func (p *parser) parseSuite() ([]stmt, error) {
	if _, err := p.expect(tokOp, ":"); err != nil {
		return nil, err
	}
	if p.accept(tokNewline, "") {
		if _, err := p.expect(tokIndent, ""); err != nil {
			return nil, err
		}
		return p.parseBlock(true)
	}
	return p.parseStmt()
}

// ---- expressions ----
//
// Precedence, lowest first: lambda, conditional, or, and, not,
// comparison, +/-, * / // %, unary, **, postfix (call/attr/index).

func (p *parser) parseExpr() (expr, error) {
	if p.at(tokKeyword, "lambda") {
		return p.parseLambda()
	}
	return p.parseConditional()
}

func (p *parser) parseLambda() (expr, error) {
	t := p.next() // lambda
	var params []string
	if !p.at(tokOp, ":") {
		for {
			name, err := p.expect(tokName, "")
			if err != nil {
				return nil, err
			}
			params = append(params, name.text)
			if !p.accept(tokOp, ",") {
				break
			}
		}
	}
	if _, err := p.expect(tokOp, ":"); err != nil {
		return nil, err
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &lambdaExpr{pos: pos{t.line}, params: params, body: body}, nil
}

func (p *parser) parseConditional() (expr, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.accept(tokKeyword, "if") {
		return then, nil
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokKeyword, "else"); err != nil {
		return nil, err
	}
	orElse, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &condExpr{pos: pos{then.Line()}, cond: cond, then: then, orElse3: orElse}, nil
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at(tokKeyword, "or") {
		t := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolOpExpr{pos: pos{t.line}, op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.at(tokKeyword, "and") {
		t := p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &boolOpExpr{pos: pos{t.line}, op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.at(tokKeyword, "not") {
		t := p.next()
		value, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{pos: pos{t.line}, op: "not", value: value}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (expr, error) {
	first, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	var ops []string
	var rest []expr
	for {
		op, ok := p.compareOp()
		if !ok {
			break
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		rest = append(rest, right)
	}
	if len(ops) == 0 {
		return first, nil
	}
	return &compareExpr{pos: pos{first.Line()}, first: first, ops: ops, rest: rest}, nil
}

func (p *parser) compareOp() (string, bool) {
	t := p.cur()
	if t.kind == tokOp {
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			return t.text, true
		}
	}
	if t.kind == tokKeyword {
		switch t.text {
		case "in":
			p.next()
			return "in", true
		case "not":
			if p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokKeyword && p.toks[p.pos+1].text == "in" {
				p.next()
				p.next()
				return "not in", true
			}
		case "is":
			p.next()
			if p.accept(tokKeyword, "not") {
				return "is not", true
			}
			return "is", true
		}
	}
	return "", false
}

func (p *parser) parseAdditive() (expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "+") || p.at(tokOp, "-") {
		t := p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binOpExpr{pos: pos{t.line}, op: t.text, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "*") || p.at(tokOp, "/") || p.at(tokOp, "//") || p.at(tokOp, "%") {
		t := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binOpExpr{pos: pos{t.line}, op: t.text, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.at(tokOp, "-") || p.at(tokOp, "+") {
		t := p.next()
		value, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{pos: pos{t.line}, op: t.text, value: value}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (expr, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.at(tokOp, "**") {
		t := p.next()
		// Right associative.
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binOpExpr{pos: pos{t.line}, op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePostfix() (expr, error) {
	e, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(tokOp, "."):
			t := p.next()
			name, err := p.expect(tokName, "")
			if err != nil {
				return nil, err
			}
			e = &attrExpr{pos: pos{t.line}, value: e, name: name.text}
		case p.at(tokOp, "("):
			call, err := p.parseCall(e)
			if err != nil {
				return nil, err
			}
			e = call
		case p.at(tokOp, "["):
			sub, err := p.parseSubscript(e)
			if err != nil {
				return nil, err
			}
			e = sub
		default:
			return e, nil
		}
	}
}

func (p *parser) parseCall(fn expr) (expr, error) {
	t := p.next() // (
	call := &callExpr{pos: pos{t.line}, fn: fn}
	for !p.at(tokOp, ")") {
		// kwarg: NAME = expr
		if p.cur().kind == tokName && p.pos+1 < len(p.toks) &&
			p.toks[p.pos+1].kind == tokOp && p.toks[p.pos+1].text == "=" {
			name := p.next()
			p.next() // =
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.kwargs = append(call.kwargs, kwarg{name: name.text, value: value})
		} else {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if len(call.kwargs) > 0 {
				return nil, &syntaxError{line: arg.Line(), msg: "positional argument follows keyword argument"}
			}
			call.args = append(call.args, arg)
		}
		if !p.accept(tokOp, ",") {
			break
		}
	}
	if _, err := p.expect(tokOp, ")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) parseSubscript(value expr) (expr, error) {
	t := p.next() // [
	var lo, hi expr
	var err error
	isSlice := false

	if !p.at(tokOp, ":") {
		lo, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.accept(tokOp, ":") {
		isSlice = true
		if !p.at(tokOp, "]") {
			hi, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(tokOp, "]"); err != nil {
		return nil, err
	}
	if isSlice {
		return &sliceExpr{pos: pos{t.line}, value: value, lo: lo, hi: hi}, nil
	}
	return &indexExpr{pos: pos{t.line}, value: value, key: lo}, nil
}

func (p *parser) parseAtom() (expr, error) {
	t := p.cur()
	switch t.kind {
	case tokName:
		p.next()
		return &nameExpr{pos: pos{t.line}, name: t.text}, nil
	case tokInt:
		p.next()
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			// Too large for int64; fall back to float.
			f, ferr := strconv.ParseFloat(t.text, 64)
			if ferr != nil {
				return nil, &syntaxError{line: t.line, msg: "invalid number literal"}
			}
			return &floatLit{pos: pos{t.line}, value: f}, nil
		}
		return &intLit{pos: pos{t.line}, value: v}, nil
	case tokFloat:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &syntaxError{line: t.line, msg: "invalid number literal"}
		}
		return &floatLit{pos: pos{t.line}, value: f}, nil
	case tokStr:
		p.next()
		// Adjacent string literals concatenate.
		val := t.text
		for p.at(tokStr, "") {
			val += p.next().text
		}
		return &strLit{pos: pos{t.line}, value: val}, nil
	case tokFStr:
		p.next()
		return parseFString(t.text, t.line)
	case tokKeyword:
		switch t.text {
		case "True":
			p.next()
			return &boolLit{pos: pos{t.line}, value: true}, nil
		case "False":
			p.next()
			return &boolLit{pos: pos{t.line}, value: false}, nil
		case "None":
			p.next()
			return &noneLit{pos{t.line}}, nil
		case "not":
			return p.parseNot()
		case "lambda":
			return p.parseLambda()
		}
	case tokOp:
		switch t.text {
		case "(":
			return p.parseParenExpr()
		case "[":
			return p.parseListOrComp()
		case "{":
			return p.parseDict()
		}
	}
	return nil, &syntaxError{line: t.line, msg: fmt.Sprintf("unexpected %q", tokenDesc(t))}
}

func (p *parser) parseParenExpr() (expr, error) {
	t := p.next() // (
	if p.accept(tokOp, ")") {
		return &tupleLit{pos: pos{t.line}}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.at(tokOp, ",") {
		elems := []expr{first}
		for p.accept(tokOp, ",") {
			if p.at(tokOp, ")") {
				break
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
		if _, err := p.expect(tokOp, ")"); err != nil {
			return nil, err
		}
		return &tupleLit{pos: pos{t.line}, elems: elems}, nil
	}
	if _, err := p.expect(tokOp, ")"); err != nil {
		return nil, err
	}
	return first, nil
}

func (p *parser) parseListOrComp() (expr, error) {
	t := p.next() // [
	if p.accept(tokOp, "]") {
		return &listLit{pos: pos{t.line}}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.at(tokKeyword, "for") {
		p.next()
		targets, err := p.parseForTargets()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokKeyword, "in"); err != nil {
			return nil, err
		}
		iter, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		comp := &listComp{pos: pos{t.line}, elem: first, targets: targets, iter: iter}
		if p.accept(tokKeyword, "if") {
			cond, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			comp.cond = cond
		}
		if _, err := p.expect(tokOp, "]"); err != nil {
			return nil, err
		}
		return comp, nil
	}

	elems := []expr{first}
	for p.accept(tokOp, ",") {
		if p.at(tokOp, "]") {
			break
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expect(tokOp, "]"); err != nil {
		return nil, err
	}
	return &listLit{pos: pos{t.line}, elems: elems}, nil
}

func (p *parser) parseDict() (expr, error) {
	t := p.next() // {
	d := &dictLit{pos: pos{t.line}}
	for !p.at(tokOp, "}") {
		key, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokOp, ":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d.keys = append(d.keys, key)
		d.values = append(d.values, value)
		if !p.accept(tokOp, ",") {
			break
		}
	}
	if _, err := p.expect(tokOp, "}"); err != nil {
		return nil, err
	}
	return d, nil
}

// parseFString splits the body of an f-string into literal and {expr}
// parts. Each embedded expression is parsed with its own sub-parser.
func parseFString(body string, line int) (expr, error) {
	fs := &fstringExpr{pos: pos{line}}
	var lit strings.Builder
	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == '{' && i+1 < len(body) && body[i+1] == '{':
			lit.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(body) && body[i+1] == '}':
			lit.WriteByte('}')
			i += 2
		case c == '}':
			return nil, &syntaxError{line: line, msg: "single '}' is not allowed in f-string"}
		case c == '{':
			if lit.Len() > 0 {
				fs.parts = append(fs.parts, fstringPart{literal: lit.String()})
				lit.Reset()
			}
			end, err := findFStringExprEnd(body, i+1, line)
			if err != nil {
				return nil, err
			}
			inner := body[i+1 : end]
			// Strip format specs and conversions; values render via str().
			if colon := topLevelColon(inner); colon >= 0 {
				inner = inner[:colon]
			}
			if bang := strings.LastIndexByte(inner, '!'); bang >= 0 && bang == len(inner)-2 {
				inner = inner[:bang]
			}
			sub, err := parseEmbeddedExpr(inner, line)
			if err != nil {
				return nil, err
			}
			fs.parts = append(fs.parts, fstringPart{expr: sub})
			i = end + 1
		default:
			lit.WriteByte(c)
			i++
		}
	}
	if lit.Len() > 0 {
		fs.parts = append(fs.parts, fstringPart{literal: lit.String()})
	}
	return fs, nil
}

func topLevelColon(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case '\'', '"':
			q := s[i]
			for i++; i < len(s) && s[i] != q; i++ {
			}
		case ':':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func findFStringExprEnd(body string, start, line int) (int, error) {
	depth := 0
	for i := start; i < len(body); i++ {
		switch body[i] {
		case '{', '[', '(':
			depth++
		case '}':
			if depth == 0 {
				return i, nil
			}
			depth--
		case ']', ')':
			depth--
		case '\'', '"':
			q := body[i]
			for i++; i < len(body) && body[i] != q; i++ {
			}
		}
	}
	return 0, &syntaxError{line: line, msg: "unterminated expression in f-string"}
}

func parseEmbeddedExpr(src string, line int) (expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, &syntaxError{line: line, msg: "invalid expression in f-string"}
	}
	p := &parser{toks: toks}
	e, err := p.parseExpr()
	if err != nil {
		return nil, &syntaxError{line: line, msg: "invalid expression in f-string"}
	}
	if !p.at(tokNewline, "") && !p.at(tokEOF, "") {
		return nil, &syntaxError{line: line, msg: "invalid expression in f-string"}
	}
	// Embedded expressions report the enclosing string's line.
	return e, nil
}
