package ir

import (
	"strconv"
	"strings"
)

// FormatFunction renders a function as deterministic, indented
// s-expressions. The output feeds FunctionHash, so it must not depend on map
// iteration order.
func FormatFunction(fn *Function) string {
	var p printer
	p.b.WriteString("(fn ")
	p.b.WriteString(fn.Name)
	p.b.WriteString(" (")
	for i, param := range fn.Params {
		if i > 0 {
			p.b.WriteByte(' ')
		}
		p.param(param)
	}
	p.b.WriteByte(')')
	if fn.Return != "" {
		p.b.WriteString(" -> ")
		p.b.WriteString(fn.Return)
	}
	p.depth = 1
	p.newline()
	if fn.Body != nil {
		p.expr(fn.Body)
	}
	p.b.WriteString(")\n")
	return p.b.String()
}

// FormatExpr renders a single expression.
func FormatExpr(e Expr) string {
	var p printer
	p.expr(e)
	return p.b.String()
}

// FormatProgram renders every type and function in declaration order.
func FormatProgram(prog *Program) string {
	var b strings.Builder
	for _, name := range prog.TypeOrder {
		td := prog.Types[name]
		b.WriteString("(type ")
		b.WriteString(td.Name)
		b.WriteByte(' ')
		b.WriteString(td.Base)
		for _, f := range td.Fields {
			b.WriteString(" (" + f.Name + " " + f.Type + ")")
		}
		for _, a := range td.Attrs {
			b.WriteString(" #[" + a.Key + "=" + displayQuoted(a.Value) + "]")
		}
		b.WriteString(")\n")
	}
	for _, name := range prog.Order {
		b.WriteString(FormatFunction(prog.Functions[name]))
	}
	return b.String()
}

func displayQuoted(v Value) string {
	if s, ok := v.(Str); ok {
		return strconv.Quote(string(s))
	}
	return Display(v)
}

type printer struct {
	b     strings.Builder
	depth int
}

func (p *printer) newline() {
	p.b.WriteByte('\n')
	for i := 0; i < p.depth; i++ {
		p.b.WriteString("  ")
	}
}

func (p *printer) param(param Param) {
	p.b.WriteString(param.Name)
	if param.Type != "" {
		p.b.WriteByte(':')
		p.b.WriteString(param.Type)
	}
}

func (p *printer) open(head string) {
	p.b.WriteByte('(')
	p.b.WriteString(head)
}

func (p *printer) exprs(es []Expr) {
	for _, e := range es {
		p.b.WriteByte(' ')
		p.expr(e)
	}
}

func (p *printer) expr(e Expr) {
	switch x := e.(type) {
	case nil:
		p.b.WriteString("()")
	case *Lit:
		p.b.WriteString(displayQuoted(x.Value))
		if _, ok := x.Value.(Float); ok && !strings.ContainsAny(Display(x.Value), ".eEIN") {
			p.b.WriteString(".0")
		}
	case *ListLit:
		p.open("list")
		p.exprs(x.Elems)
		p.b.WriteByte(')')
	case *RecordLit:
		p.open("record")
		for _, f := range x.Fields {
			p.b.WriteString(" (" + f.Name + " ")
			p.expr(f.Value)
			p.b.WriteByte(')')
		}
		p.b.WriteByte(')')
	case *Ident:
		p.b.WriteString(x.Name)
	case *Binary:
		p.open(x.Op.String())
		p.exprs([]Expr{x.Left, x.Right})
		p.b.WriteByte(')')
	case *Unary:
		p.open(x.Op.String())
		p.exprs([]Expr{x.Operand})
		p.b.WriteByte(')')
	case *Call:
		p.open("call ")
		p.expr(x.Callee)
		p.exprs(x.Args)
		p.b.WriteByte(')')
	case *Pipe:
		p.open("|>")
		p.exprs([]Expr{x.Value, x.Target})
		p.b.WriteByte(')')
	case *Match:
		p.open("match ")
		p.expr(x.Subject)
		p.depth++
		for _, arm := range x.Arms {
			p.newline()
			p.b.WriteByte('(')
			p.pattern(arm.Pattern)
			p.b.WriteString(" => ")
			p.expr(arm.Body)
			p.b.WriteByte(')')
		}
		p.depth--
		p.b.WriteByte(')')
	case *Block:
		p.open("block")
		p.depth++
		for _, s := range x.Stmts {
			p.newline()
			p.stmt(s)
		}
		if x.Result != nil {
			p.newline()
			p.b.WriteString("=> ")
			p.expr(x.Result)
		}
		p.depth--
		p.b.WriteByte(')')
	case *If:
		p.open("if")
		p.exprs([]Expr{x.Cond, x.Then})
		if x.Else != nil {
			p.exprs([]Expr{x.Else})
		}
		p.b.WriteByte(')')
	case *Field:
		p.open(".")
		p.exprs([]Expr{x.Target})
		p.b.WriteString(" " + x.Name + ")")
	case *Index:
		p.open("[]")
		p.exprs([]Expr{x.Target, x.Index})
		p.b.WriteByte(')')
	case *Lambda:
		p.open("lambda (")
		for i, param := range x.Params {
			if i > 0 {
				p.b.WriteByte(' ')
			}
			p.param(param)
		}
		p.b.WriteString(") ")
		p.expr(x.Body)
		p.b.WriteByte(')')
	case *Claim:
		p.open("claim")
		p.exprs([]Expr{x.Value})
		p.b.WriteByte(')')
	}
}

func (p *printer) stmt(s Stmt) {
	switch x := s.(type) {
	case *Let:
		if x.Mutable {
			p.open("var ")
		} else {
			p.open("let ")
		}
		p.b.WriteString(x.Name)
		if x.Type != "" {
			p.b.WriteString(":" + x.Type)
		}
		p.exprs([]Expr{x.Value})
		p.b.WriteByte(')')
	case *ExprStmt:
		p.expr(x.Expr)
	case *Return:
		p.open("return")
		if x.Value != nil {
			p.exprs([]Expr{x.Value})
		}
		p.b.WriteByte(')')
	case *For:
		p.open("for " + x.Var)
		p.exprs([]Expr{x.Iter})
		if x.Where != nil {
			p.b.WriteString(" where")
			p.exprs([]Expr{x.Where})
		}
		p.b.WriteByte(' ')
		p.expr(x.Body)
		p.b.WriteByte(')')
	case *Assign:
		p.open("set " + x.Name)
		p.exprs([]Expr{x.Value})
		p.b.WriteByte(')')
	}
}

func (p *printer) pattern(pat Pattern) {
	switch x := pat.(type) {
	case *WildcardPattern:
		p.b.WriteByte('_')
	case *LitPattern:
		p.b.WriteString(displayQuoted(x.Value))
	case *BindPattern:
		p.b.WriteString(x.Name)
	case *RangePattern:
		p.b.WriteString(strconv.FormatInt(x.Lo, 10) + ".." + strconv.FormatInt(x.Hi, 10))
	}
}
