package sandbox

// Node positions are line numbers in the original script, used for error
// reporting from both execution and static validation.

type stmt interface {
	stmtNode()
	Line() int
}

type expr interface {
	exprNode()
	Line() int
}

type pos struct{ line int }

func (p pos) Line() int { return p.line }

// ---- statements ----

type assignStmt struct {
	pos
	target expr // nameExpr, attrExpr, or indexExpr
	value  expr
}

type tupleAssignStmt struct {
	pos
	targets []expr // name targets only
	value   expr
}

type augAssignStmt struct {
	pos
	target expr
	op     string // "+", "-", "*", "/"
	value  expr
}

type exprStmt struct {
	pos
	value expr
}

type importStmt struct {
	pos
	modules []importedModule
}

type importedModule struct {
	name  string
	alias string
}

type fromImportStmt struct {
	pos
	module string
	names  []importedModule
}

type ifStmt struct {
	pos
	cond   expr
	body   []stmt
	orelse []stmt // may contain a single nested ifStmt for elif chains
}

type forStmt struct {
	pos
	targets []string
	iter    expr
	body    []stmt
}

type whileStmt struct {
	pos
	cond expr
	body []stmt
}

type raiseStmt struct {
	pos
	value expr // nil for bare raise
}

type passStmt struct{ pos }

type breakStmt struct{ pos }

type continueStmt struct{ pos }

func (*assignStmt) stmtNode()      {}
func (*tupleAssignStmt) stmtNode() {}
func (*augAssignStmt) stmtNode()   {}
func (*exprStmt) stmtNode()        {}
func (*importStmt) stmtNode()      {}
func (*fromImportStmt) stmtNode()  {}
func (*ifStmt) stmtNode()          {}
func (*forStmt) stmtNode()         {}
func (*whileStmt) stmtNode()       {}
func (*raiseStmt) stmtNode()       {}
func (*passStmt) stmtNode()        {}
func (*breakStmt) stmtNode()       {}
func (*continueStmt) stmtNode()    {}

// ---- expressions ----

type nameExpr struct {
	pos
	name string
}

type intLit struct {
	pos
	value int64
}

type floatLit struct {
	pos
	value float64
}

type strLit struct {
	pos
	value string
}

type fstringExpr struct {
	pos
	parts []fstringPart
}

type fstringPart struct {
	literal string
	expr    expr // nil for literal parts
}

type boolLit struct {
	pos
	value bool
}

type noneLit struct{ pos }

type listLit struct {
	pos
	elems []expr
}

type tupleLit struct {
	pos
	elems []expr
}

type dictLit struct {
	pos
	keys   []expr
	values []expr
}

type listComp struct {
	pos
	elem    expr
	targets []string
	iter    expr
	cond    expr // nil when no filter
}

type attrExpr struct {
	pos
	value expr
	name  string
}

type indexExpr struct {
	pos
	value expr
	key   expr
}

type sliceExpr struct {
	pos
	value expr
	lo    expr // nil for open bounds
	hi    expr
}

type callExpr struct {
	pos
	fn     expr
	args   []expr
	kwargs []kwarg
}

type kwarg struct {
	name  string
	value expr
}

type binOpExpr struct {
	pos
	op    string
	left  expr
	right expr
}

type unaryExpr struct {
	pos
	op    string // "-", "+", "not"
	value expr
}

type boolOpExpr struct {
	pos
	op    string // "and", "or"
	left  expr
	right expr
}

type compareExpr struct {
	pos
	first expr
	ops   []string // "==", "!=", "<", "<=", ">", ">=", "in", "not in"
	rest  []expr
}

type condExpr struct {
	pos
	cond    expr
	then    expr
	orElse3 expr
}

type lambdaExpr struct {
	pos
	params []string
	body   expr
}

func (*nameExpr) exprNode()    {}
func (*intLit) exprNode()      {}
func (*floatLit) exprNode()    {}
func (*strLit) exprNode()      {}
func (*fstringExpr) exprNode() {}
func (*boolLit) exprNode()     {}
func (*noneLit) exprNode()     {}
func (*listLit) exprNode()     {}
func (*tupleLit) exprNode()    {}
func (*dictLit) exprNode()     {}
func (*listComp) exprNode()    {}
func (*attrExpr) exprNode()    {}
func (*indexExpr) exprNode()   {}
func (*sliceExpr) exprNode()   {}
func (*callExpr) exprNode()    {}
func (*binOpExpr) exprNode()   {}
func (*unaryExpr) exprNode()   {}
func (*boolOpExpr) exprNode()  {}
func (*compareExpr) exprNode() {}
func (*condExpr) exprNode()    {}
func (*lambdaExpr) exprNode()  {}
