package expr

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by EvaluationError.
var (
	ErrDivisionByZero  = errors.New("division by zero")
	ErrUnknownVariable = errors.New("unknown variable")
	ErrUnknownFunction = errors.New("unknown function")
	ErrNotScalar       = errors.New("variable is not a scalar")
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrStackArity      = errors.New("expression did not reduce to a single value")
	ErrEmptyExpression = errors.New("empty expression")
)

// LexicalError reports a character sequence that is not a token.
type LexicalError struct {
	Pos int
	Msg string
}

func (e *LexicalError) Error() string {
	return fmt.Sprintf("lexical error at position %d: %s", e.Pos, e.Msg)
}

// SyntaxError reports a token stream that does not form an expression.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

// EvaluationError wraps a failure of the stack machine.
type EvaluationError struct {
	Op  string
	Err error
}

func (e *EvaluationError) Error() string {
	if e.Op == "" {
		return "evaluation error: " + e.Err.Error()
	}
	return fmt.Sprintf("evaluation error in %s: %s", e.Op, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func evalErr(op string, err error) error {
	return &EvaluationError{Op: op, Err: err}
}

// errorKind labels err for metrics.
func errorKind(err error) string {
	var (
		lex *LexicalError
		syn *SyntaxError
		ev  *EvaluationError
	)
	switch {
	case errors.As(err, &lex):
		return "lexical"
	case errors.As(err, &syn), errors.Is(err, ErrEmptyExpression):
		return "syntax"
	case errors.As(err, &ev):
		return "evaluation"
	}
	return "panic"
}
