package expr

import (
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------
// Postfix program
// -----------------------------------------------------------------------

type instrKind int

const (
	instNumber instrKind = iota
	instString
	instVar
	instUnary
	instBinary
	instCall
)

type instr struct {
	kind instrKind
	num  float64
	str  string // literal, variable path, operator or function name
	argc int
}

// Program is a compiled expression in postfix order.
// A Program is immutable and may be evaluated concurrently.
type Program struct {
	source string
	code   []instr
}

// Source returns the expression text the program was compiled from.
func (p *Program) Source() string { return p.source }

// String renders the postfix form, mainly for tests and debugging.
func (p *Program) String() string {
	parts := make([]string, 0, len(p.code))
	for _, in := range p.code {
		switch in.kind {
		case instNumber:
			parts = append(parts, strconv.FormatFloat(in.num, 'f', -1, 64))
		case instString:
			parts = append(parts, strconv.Quote(in.str))
		case instUnary:
			if in.str == "-" {
				parts = append(parts, "neg")
			} else {
				parts = append(parts, in.str)
			}
		case instCall:
			parts = append(parts, in.str+"/"+strconv.Itoa(in.argc))
		default:
			parts = append(parts, in.str)
		}
	}
	return strings.Join(parts, " ")
}

// -----------------------------------------------------------------------
// Shunting-yard
// -----------------------------------------------------------------------

const unaryPrec = 6

var binaryPrec = map[string]int{
	"||": 0,
	"&&": 1,
	"==": 2, "!=": 2, "<": 2, "<=": 2, ">": 2, ">=": 2,
	"+": 3, "-": 3,
	"*": 4, "/": 4,
	"^": 5,
}

type stackKind int

const (
	stackBinary stackKind = iota
	stackUnary
	stackParen
	stackCall
)

type stackEntry struct {
	kind stackKind
	op   string
	prec int
	pos  int
	argc int // commas seen + 1, for parens that open a call
}

// position of the previous token, used to tell unary from binary minus.
type prevKind int

const (
	prevStart prevKind = iota
	prevOperand
	prevOperator
	prevOpenParen
	prevComma
	prevCall
)

// Compile tokenizes and parses expr into a postfix Program.
//
// All binary operators are left-associative, so "2 ^ 3 ^ 2" is (2^3)^2.
// Prefix "-" and "!" bind tighter than any binary operator.
func Compile(expr string) (*Program, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyExpression
	}

	var (
		out   []instr
		stack []stackEntry
		prev  = prevStart
	)

	popTo := func(e stackEntry) {
		switch e.kind {
		case stackUnary:
			out = append(out, instr{kind: instUnary, str: e.op})
		case stackBinary:
			out = append(out, instr{kind: instBinary, str: e.op})
		}
	}

	for i, t := range tokens {
		switch t.kind {
		case tokNumber, tokString, tokBool:
			if prev == prevOperand || prev == prevCall {
				return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected literal " + strconv.Quote(t.val)}
			}
			switch t.kind {
			case tokNumber:
				f, err := strconv.ParseFloat(t.val, 64)
				if err != nil {
					return nil, &LexicalError{Pos: t.pos, Msg: "invalid number " + strconv.Quote(t.val)}
				}
				out = append(out, instr{kind: instNumber, num: f})
			case tokString:
				out = append(out, instr{kind: instString, str: t.val})
			case tokBool:
				n := 0.0
				if t.val == "true" {
					n = 1
				}
				out = append(out, instr{kind: instNumber, num: n})
			}
			prev = prevOperand

		case tokIdent:
			if prev == prevOperand || prev == prevCall {
				return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected identifier " + strconv.Quote(t.val)}
			}
			callsNext := i+1 < len(tokens) && tokens[i+1].kind == tokLParen
			if _, builtin := functions[t.val]; builtin && !callsNext {
				return nil, &SyntaxError{Pos: t.pos, Msg: "function " + t.val + " must be called with parentheses"}
			}
			if callsNext {
				stack = append(stack, stackEntry{kind: stackCall, op: t.val, pos: t.pos})
				prev = prevCall
				continue
			}
			out = append(out, instr{kind: instVar, str: t.val})
			prev = prevOperand

		case tokLParen:
			if prev == prevOperand {
				return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected \"(\""}
			}
			stack = append(stack, stackEntry{kind: stackParen, pos: t.pos, argc: 1})
			prev = prevOpenParen

		case tokRParen:
			if prev != prevOperand {
				return nil, &SyntaxError{Pos: t.pos, Msg: "missing operand before \")\""}
			}
			for len(stack) > 0 && stack[len(stack)-1].kind != stackParen {
				popTo(stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return nil, &SyntaxError{Pos: t.pos, Msg: "mismatched \")\""}
			}
			paren := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) > 0 && stack[len(stack)-1].kind == stackCall {
				call := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if arity, ok := functions[call.op]; ok && arity.argc != paren.argc {
					return nil, &SyntaxError{Pos: call.pos, Msg: call.op + " expects " + strconv.Itoa(arity.argc) + " argument(s), got " + strconv.Itoa(paren.argc)}
				}
				out = append(out, instr{kind: instCall, str: call.op, argc: paren.argc})
			} else if paren.argc > 1 {
				return nil, &SyntaxError{Pos: paren.pos, Msg: "\",\" outside of a function call"}
			}
			prev = prevOperand

		case tokComma:
			if prev != prevOperand {
				return nil, &SyntaxError{Pos: t.pos, Msg: "missing operand before \",\""}
			}
			for len(stack) > 0 && stack[len(stack)-1].kind != stackParen {
				popTo(stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			if len(stack) < 2 || stack[len(stack)-2].kind != stackCall {
				return nil, &SyntaxError{Pos: t.pos, Msg: "\",\" outside of a function call"}
			}
			stack[len(stack)-1].argc++
			prev = prevComma

		case tokOp:
			if prev == prevCall {
				return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected operator " + strconv.Quote(t.val)}
			}
			if prev != prevOperand {
				// Operand position: only prefix operators are allowed here.
				if t.val != "-" && t.val != "!" {
					return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected operator " + strconv.Quote(t.val)}
				}
				stack = append(stack, stackEntry{kind: stackUnary, op: t.val, prec: unaryPrec, pos: t.pos})
				prev = prevOperator
				continue
			}
			prec, ok := binaryPrec[t.val]
			if !ok {
				return nil, &SyntaxError{Pos: t.pos, Msg: "operator " + strconv.Quote(t.val) + " is not binary"}
			}
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.kind == stackParen || top.kind == stackCall || top.prec < prec {
					break
				}
				popTo(top)
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, stackEntry{kind: stackBinary, op: t.val, prec: prec, pos: t.pos})
			prev = prevOperator
		}
	}

	if prev != prevOperand {
		return nil, &SyntaxError{Pos: len(expr), Msg: "unexpected end of expression"}
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.kind == stackParen || top.kind == stackCall {
			return nil, &SyntaxError{Pos: top.pos, Msg: "mismatched \"(\""}
		}
		popTo(top)
	}
	return &Program{source: expr, code: out}, nil
}
