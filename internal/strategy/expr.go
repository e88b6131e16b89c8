// Package strategy evaluates user-configured buy/sell conditions against an
// indicator mapping.
//
// Conditions are written in a restricted expression language: identifiers
// limited to known indicator names, numeric and boolean literals, comparison,
// logical, and arithmetic operators, and parentheses. No calls, no
// assignment, no member access. Expressions are parsed into an AST and
// interpreted, never executed as code.
package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a compiled boolean expression over named indicator values.
type Expr struct {
	src  string
	root node
}

// Compile parses src into an evaluable expression.
func Compile(src string) (*Expr, error) {
	p := &parser{toks: lex(src)}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("compile %q: unexpected %q", src, tok.text)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval evaluates the expression against the indicator mapping. The result
// must be boolean; a numeric result, an unknown identifier, or a type
// mismatch yields an error.
func (e *Expr) Eval(vars map[string]float64) (bool, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", e.src, err)
	}
	if !v.isBool {
		return false, fmt.Errorf("eval %q: result is numeric, want boolean", e.src)
	}
	return v.b, nil
}

// String returns the source form of the expression.
func (e *Expr) String() string { return e.src }

/* ---------- values ---------- */

type value struct {
	num    float64
	b      bool
	isBool bool
}

func numVal(f float64) value { return value{num: f} }
func boolVal(b bool) value   { return value{b: b, isBool: true} }

func (v value) wantNum() (float64, error) {
	if v.isBool {
		return 0, fmt.Errorf("boolean used as number")
	}
	return v.num, nil
}

func (v value) wantBool() (bool, error) {
	if !v.isBool {
		return false, fmt.Errorf("number used as boolean")
	}
	return v.b, nil
}

/* ---------- AST ---------- */

type node interface {
	eval(vars map[string]float64) (value, error)
}

type numNode float64

func (n numNode) eval(map[string]float64) (value, error) { return numVal(float64(n)), nil }

type boolNode bool

func (n boolNode) eval(map[string]float64) (value, error) { return boolVal(bool(n)), nil }

type identNode string

func (n identNode) eval(vars map[string]float64) (value, error) {
	v, ok := vars[string(n)]
	if !ok {
		return value{}, fmt.Errorf("unknown indicator %q", string(n))
	}
	return numVal(v), nil
}

type unaryNode struct {
	op string
	x  node
}

func (n *unaryNode) eval(vars map[string]float64) (value, error) {
	v, err := n.x.eval(vars)
	if err != nil {
		return value{}, err
	}
	switch n.op {
	case "!":
		b, err := v.wantBool()
		if err != nil {
			return value{}, err
		}
		return boolVal(!b), nil
	case "-":
		f, err := v.wantNum()
		if err != nil {
			return value{}, err
		}
		return numVal(-f), nil
	}
	return value{}, fmt.Errorf("unknown unary operator %q", n.op)
}

type binaryNode struct {
	op   string
	x, y node
}

func (n *binaryNode) eval(vars map[string]float64) (value, error) {
	// Short-circuit logical operators before evaluating the right side.
	if n.op == "&&" || n.op == "||" {
		xb, err := evalBool(n.x, vars)
		if err != nil {
			return value{}, err
		}
		if n.op == "&&" && !xb {
			return boolVal(false), nil
		}
		if n.op == "||" && xb {
			return boolVal(true), nil
		}
		yb, err := evalBool(n.y, vars)
		if err != nil {
			return value{}, err
		}
		return boolVal(yb), nil
	}

	xv, err := n.x.eval(vars)
	if err != nil {
		return value{}, err
	}
	yv, err := n.y.eval(vars)
	if err != nil {
		return value{}, err
	}

	switch n.op {
	case "==", "!=":
		if xv.isBool != yv.isBool {
			return value{}, fmt.Errorf("comparing boolean with number")
		}
		var eq bool
		if xv.isBool {
			eq = xv.b == yv.b
		} else {
			eq = xv.num == yv.num
		}
		if n.op == "!=" {
			eq = !eq
		}
		return boolVal(eq), nil
	}

	xf, err := xv.wantNum()
	if err != nil {
		return value{}, err
	}
	yf, err := yv.wantNum()
	if err != nil {
		return value{}, err
	}

	switch n.op {
	case "<":
		return boolVal(xf < yf), nil
	case "<=":
		return boolVal(xf <= yf), nil
	case ">":
		return boolVal(xf > yf), nil
	case ">=":
		return boolVal(xf >= yf), nil
	case "+":
		return numVal(xf + yf), nil
	case "-":
		return numVal(xf - yf), nil
	case "*":
		return numVal(xf * yf), nil
	case "/":
		if yf == 0 {
			return value{}, fmt.Errorf("division by zero")
		}
		return numVal(xf / yf), nil
	}
	return value{}, fmt.Errorf("unknown operator %q", n.op)
}

func evalBool(n node, vars map[string]float64) (bool, error) {
	v, err := n.eval(vars)
	if err != nil {
		return false, err
	}
	return v.wantBool()
}

/* ---------- lexer ---------- */

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokErr
)

type token struct {
	kind tokKind
	text string
}

func lex(src string) []token {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case strings.ContainsRune("<>=!&|+-*/", rune(c)):
			// Greedily take two-character operators first.
			if i+1 < len(src) {
				two := src[i : i+2]
				switch two {
				case "<=", ">=", "==", "!=", "&&", "||":
					toks = append(toks, token{tokOp, two})
					i += 2
					continue
				}
			}
			toks = append(toks, token{tokOp, string(c)})
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNum, src[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			toks = append(toks, token{tokErr, string(c)})
			i++
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks
}

/* ---------- parser ---------- */

// Binding powers for the Pratt parser; higher binds tighter.
var binding = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6,
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr(minBP int) (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp {
			break
		}
		bp, ok := binding[tok.text]
		if !ok || bp < minBP {
			break
		}
		p.next()
		right, err := p.parseExpr(bp + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.text, x: left, y: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNum:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", tok.text)
		}
		return numNode(f), nil
	case tokIdent:
		switch tok.text {
		case "true":
			return boolNode(true), nil
		case "false":
			return boolNode(false), nil
		}
		// Reject call syntax outright: identifiers are plain names only.
		if p.peek().kind == tokLParen {
			return nil, fmt.Errorf("function calls are not allowed")
		}
		return identNode(tok.text), nil
	case tokOp:
		switch tok.text {
		case "!", "-":
			x, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return &unaryNode{op: tok.text, x: x}, nil
		}
		return nil, fmt.Errorf("unexpected operator %q", tok.text)
	case tokLParen:
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected token %q", tok.text)
}
