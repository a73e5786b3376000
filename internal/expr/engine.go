package expr

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gyaneshwarpardhi/affix/internal/metrics"
	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// Engine evaluates author-supplied expressions with a compiled-program cache.
//
// Evaluate and EvaluateCondition never fail: any lexical, syntax or
// evaluation error is logged and turned into 0 / false so that a broken rule
// stays inert instead of aborting the dispatch around it.
type Engine struct {
	mu     sync.RWMutex
	cache  map[string]*Program
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil logger uses slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cache: make(map[string]*Program), logger: logger}
}

// Compile returns the cached program for expr, compiling it on first use.
// Failed compilations are not cached.
func (e *Engine) Compile(expr string) (*Program, error) {
	e.mu.RLock()
	p, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[expr] = p
	n := len(e.cache)
	e.mu.Unlock()
	metrics.ExpressionCacheSize.Set(float64(n))
	return p, nil
}

// EvaluateValue compiles and runs expr, returning errors instead of
// swallowing them. Panics inside evaluation are converted to errors.
func (e *Engine) EvaluateValue(expr string, env *vars.Env) (v vars.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("expression panicked: %v", r)
		}
	}()
	if strings.TrimSpace(expr) == "" {
		return vars.Value{}, ErrEmptyExpression
	}
	p, err := e.Compile(expr)
	if err != nil {
		return vars.Value{}, err
	}
	return p.Eval(env)
}

// Evaluate returns the numeric result of expr, or 0 on any failure.
func (e *Engine) Evaluate(expr string, env *vars.Env) float64 {
	if strings.TrimSpace(expr) == "" {
		return 0
	}
	v, err := e.EvaluateValue(expr, env)
	if err != nil {
		e.fail(expr, err)
		return 0
	}
	return v.Num()
}

// EvaluateCondition reports whether expr holds. An empty condition always
// holds; a failing one never does.
func (e *Engine) EvaluateCondition(expr string, env *vars.Env) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	v, err := e.EvaluateValue(expr, env)
	if err != nil {
		e.fail(expr, err)
		return false
	}
	return Truthy(v)
}

// Truthy is the boolean reading of an expression result.
func Truthy(v vars.Value) bool {
	if v.Kind() == vars.KindString {
		return v.Str() != ""
	}
	return math.Abs(v.Num()) > epsilon
}

// ClearCache drops every compiled program and returns how many were held.
func (e *Engine) ClearCache() int {
	e.mu.Lock()
	n := len(e.cache)
	e.cache = make(map[string]*Program)
	e.mu.Unlock()
	metrics.ExpressionCacheSize.Set(0)
	e.logger.Info("expression cache cleared", "entries", n)
	return n
}

// CacheLen returns the number of cached programs.
func (e *Engine) CacheLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func (e *Engine) fail(expr string, err error) {
	kind := errorKind(err)
	metrics.ExpressionErrors.WithLabelValues(kind).Inc()
	e.logger.Warn("expression failed", "expr", expr, "kind", kind, "err", err)
}
