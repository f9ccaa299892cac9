package ir

import "fmt"

// Expr is a sealed interface over expression nodes.
type Expr interface {
	exprNode()
}

// Stmt is a sealed interface over statement nodes.
type Stmt interface {
	stmtNode()
}

// Pattern is a sealed interface over match patterns.
type Pattern interface {
	patternNode()
}

// BinOp is a binary operator.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

var binOpNames = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "&&", OpOr: "||",
}

func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return fmt.Sprintf("binop(%d)", uint8(op))
}

// ParseBinOp resolves an operator spelling.
func ParseBinOp(s string) (BinOp, error) {
	for i, n := range binOpNames {
		if n == s {
			return BinOp(i), nil
		}
	}
	return 0, fmt.Errorf("unknown binary operator %q", s)
}

// Comparison reports whether op yields a Bool from ordered operands.
func (op BinOp) Comparison() bool {
	return op >= OpLt && op <= OpGe
}

// UnOp is a unary operator.
type UnOp uint8

const (
	OpNeg UnOp = iota
	OpNot
)

func (op UnOp) String() string {
	if op == OpNot {
		return "!"
	}
	return "-"
}

// ParseUnOp resolves a unary operator spelling.
func ParseUnOp(s string) (UnOp, error) {
	switch s {
	case "-":
		return OpNeg, nil
	case "!":
		return OpNot, nil
	}
	return 0, fmt.Errorf("unknown unary operator %q", s)
}

// Lit is a scalar literal (Int, Float, Str, Bool, Unit).
type Lit struct {
	Value Value
}

// ListLit builds a list from element expressions.
type ListLit struct {
	Elems []Expr
}

// FieldInit is one field of a record literal.
type FieldInit struct {
	Name  string
	Value Expr
}

// RecordLit builds a record. Fields keep source order for evaluation.
type RecordLit struct {
	Fields []FieldInit
}

// Ident references a local variable, parameter or function.
type Ident struct {
	Name string
}

// Binary applies a binary operator.
type Binary struct {
	Op          BinOp
	Left, Right Expr
}

// Unary applies a unary operator.
type Unary struct {
	Op      UnOp
	Operand Expr
}

// Call invokes Callee with Args.
type Call struct {
	Callee Expr
	Args   []Expr
}

// Pipe evaluates Value and passes it as the first argument of Target,
// which is a Call or an Ident.
type Pipe struct {
	Value  Expr
	Target Expr
}

// Arm is one match arm.
type Arm struct {
	Pattern Pattern
	Body    Expr
}

// Match selects the first arm whose pattern matches Subject.
type Match struct {
	Subject Expr
	Arms    []Arm
}

// Block opens a pulse zone for its statements. Result, when set, is the
// block's value; otherwise the block yields Unit.
type Block struct {
	Stmts  []Stmt
	Result Expr
}

// If yields Then or Else. A missing Else yields Unit.
type If struct {
	Cond, Then, Else Expr
}

// Field reads a record field.
type Field struct {
	Target Expr
	Name   string
}

// Index reads a list element or string character.
type Index struct {
	Target, Index Expr
}

// Lambda is an anonymous function literal.
type Lambda struct {
	Params []Param
	Body   Expr
}

// Claim promotes the value of Value to the parent zone.
type Claim struct {
	Value Expr
}

func (*Lit) exprNode()       {}
func (*ListLit) exprNode()   {}
func (*RecordLit) exprNode() {}
func (*Ident) exprNode()     {}
func (*Binary) exprNode()    {}
func (*Unary) exprNode()     {}
func (*Call) exprNode()      {}
func (*Pipe) exprNode()      {}
func (*Match) exprNode()     {}
func (*Block) exprNode()     {}
func (*If) exprNode()        {}
func (*Field) exprNode()     {}
func (*Index) exprNode()     {}
func (*Lambda) exprNode()    {}
func (*Claim) exprNode()     {}

// Let declares a variable. Type is an optional builtin or ghost type name.
type Let struct {
	Name    string
	Type    string
	Value   Expr
	Mutable bool
}

// ExprStmt evaluates an expression for its effects.
type ExprStmt struct {
	Expr Expr
}

// Return leaves the function. A nil Value returns Unit.
type Return struct {
	Value Expr
}

// For iterates Iter, binding each element to Var. Where, when set, skips
// elements for which it is falsy.
type For struct {
	Var   string
	Iter  Expr
	Where Expr
	Body  *Block
}

// Assign rebinds an existing variable.
type Assign struct {
	Name  string
	Value Expr
}

func (*Let) stmtNode()      {}
func (*ExprStmt) stmtNode() {}
func (*Return) stmtNode()   {}
func (*For) stmtNode()      {}
func (*Assign) stmtNode()   {}

// WildcardPattern matches anything.
type WildcardPattern struct{}

// LitPattern matches a value structurally equal to Value.
type LitPattern struct {
	Value Value
}

// BindPattern matches anything and binds it to Name.
type BindPattern struct {
	Name string
}

// RangePattern matches an Int in the inclusive range [Lo, Hi].
type RangePattern struct {
	Lo, Hi int64
}

func (*WildcardPattern) patternNode() {}
func (*LitPattern) patternNode()      {}
func (*BindPattern) patternNode()     {}
func (*RangePattern) patternNode()    {}

// Param is a function or lambda parameter. Type may be empty.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Function is a named top-level function.
type Function struct {
	Name   string
	Params []Param
	Return string
	Body   *Block
}

// GhostAttr is one key/value attribute of a ghost type declaration.
type GhostAttr struct {
	Key   string
	Value Value
}

// FieldDecl is one field of a record type declaration.
type FieldDecl struct {
	Name string
	Type string
}

// TypeDecl declares a named type over a base kind, with ghost attributes.
type TypeDecl struct {
	Name   string
	Base   string
	Fields []FieldDecl
	Attrs  []GhostAttr
}

// Program is a compiled unit: functions and type declarations.
// Order and TypeOrder keep declaration order for deterministic iteration.
type Program struct {
	Functions map[string]*Function
	Order     []string
	Types     map[string]*TypeDecl
	TypeOrder []string
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{
		Functions: make(map[string]*Function),
		Types:     make(map[string]*TypeDecl),
	}
}

// AddFunction registers fn. Duplicate names are rejected.
func (p *Program) AddFunction(fn *Function) error {
	if _, ok := p.Functions[fn.Name]; ok {
		return fmt.Errorf("duplicate function %q", fn.Name)
	}
	p.Functions[fn.Name] = fn
	p.Order = append(p.Order, fn.Name)
	return nil
}

// AddType registers a type declaration. Duplicate names are rejected.
func (p *Program) AddType(td *TypeDecl) error {
	if _, ok := p.Types[td.Name]; ok {
		return fmt.Errorf("duplicate type %q", td.Name)
	}
	p.Types[td.Name] = td
	p.TypeOrder = append(p.TypeOrder, td.Name)
	return nil
}

// Function returns the named function, or nil.
func (p *Program) Function(name string) *Function {
	return p.Functions[name]
}
