// Package condition evaluates the restricted boolean expressions that decide
// whether a configured pipeline element is included for a request.
//
// Expressions are parsed, never executed as code. The parsed tree is checked
// against an allow-list of node kinds and operators and may only read the
// request vocabulary:
//
//	body, headers, user, meta, requestId, tenant, pipeline
//
// so a condition like
//
//	body.amount > 100 && headers["x-channel"] == "web" && !(user.role in ["guest"])
//
// is accepted while anything containing a function call, builtin, closure or
// an unknown identifier is rejected. The evaluator is fail-closed: rejected
// expressions and evaluation errors yield false.
package condition

import (
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

const defaultCacheSize = 512

// vocabulary is the set of root identifiers an expression may reference.
var vocabulary = map[string]struct{}{
	"body":      {},
	"headers":   {},
	"user":      {},
	"meta":      {},
	"requestId": {},
	"tenant":    {},
	"pipeline":  {},
}

// deniedWords are rejected as identifiers and as member names, whether
// written as body.x or body["x"]. String operands are plain data.
var deniedWords = map[string]struct{}{
	"process":       {},
	"require":       {},
	"import":        {},
	"eval":          {},
	"Function":      {},
	"constructor":   {},
	"__proto__":     {},
	"prototype":     {},
	"global":        {},
	"globalThis":    {},
	"fs":            {},
	"child_process": {},
	"exec":          {},
}

var allowedBinary = map[string]struct{}{
	"==": {}, "!=": {}, "<": {}, ">": {}, "<=": {}, ">=": {},
	"&&": {}, "||": {}, "and": {}, "or": {},
	"in": {}, "not in": {}, "contains": {}, "startsWith": {}, "endsWith": {}, "matches": {},
	"??": {}, "+": {}, "-": {}, "*": {}, "/": {}, "%": {},
}

var allowedUnary = map[string]struct{}{
	"!": {}, "not": {}, "-": {}, "+": {},
}

// Evaluator implements ports.ConditionEvaluator.
// It is safe for concurrent use.
type Evaluator struct {
	cache  *lru.Cache[string, *vm.Program]
	logger *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger used to report rejected expressions.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// New creates an evaluator with a bounded compiled-expression cache.
func New(opts ...Option) *Evaluator {
	cache, err := lru.New[string, *vm.Program](defaultCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	e := &Evaluator{
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate reports whether expression holds for ec.
// An empty expression is always true.
func (e *Evaluator) Evaluate(expression string, ec *domain.Context) bool {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true
	}
	if ec == nil {
		return false
	}

	program, err := e.compile(expression)
	if err != nil {
		e.logger.Debug("condition rejected",
			slog.String("expression", expression),
			slog.String("error", err.Error()))
		return false
	}

	out, err := runSafely(program, Env(ec))
	if err != nil {
		e.logger.Debug("condition evaluation failed",
			slog.String("expression", expression),
			slog.String("request_id", ec.RequestID),
			slog.String("error", err.Error()))
		return false
	}
	return Truthy(out)
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	if p, ok := e.cache.Get(expression); ok {
		return p, nil
	}
	if err := Check(expression); err != nil {
		return nil, err
	}
	program, err := expr.Compile(expression, expr.Env(templateEnv()), expr.DisableAllBuiltins())
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	e.cache.Add(expression, program)
	return program, nil
}

func runSafely(program *vm.Program, env map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()
	return expr.Run(program, env)
}

// Check parses expression and verifies it only uses the allowed subset.
func Check(expression string) error {
	tree, err := parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	v := &restrictor{}
	ast.Walk(&tree.Node, v)
	return v.err
}

// restrictor walks a parsed tree and records the first disallowed node.
type restrictor struct {
	err error
}

func (r *restrictor) Visit(node *ast.Node) {
	if r.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.NilNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode, *ast.StringNode,
		*ast.ConstantNode, *ast.ChainNode, *ast.ConditionalNode, *ast.ArrayNode:
	case *ast.MemberNode:
		if prop, ok := n.Property.(*ast.StringNode); ok {
			if _, denied := deniedWords[prop.Value]; denied {
				r.err = fmt.Errorf("disallowed member %q", prop.Value)
			}
		}
	case *ast.IdentifierNode:
		if _, denied := deniedWords[n.Value]; denied {
			r.err = fmt.Errorf("disallowed word %q", n.Value)
			return
		}
		if _, ok := vocabulary[n.Value]; !ok {
			r.err = fmt.Errorf("unknown identifier %q", n.Value)
		}
	case *ast.UnaryNode:
		if _, ok := allowedUnary[n.Operator]; !ok {
			r.err = fmt.Errorf("operator %q is not allowed", n.Operator)
		}
	case *ast.BinaryNode:
		if _, ok := allowedBinary[n.Operator]; !ok {
			r.err = fmt.Errorf("operator %q is not allowed", n.Operator)
		}
	default:
		r.err = fmt.Errorf("%T is not allowed", n)
	}
}

// Env exposes the readable fields of ec to an expression.
func Env(ec *domain.Context) map[string]any {
	meta := ec.Meta.Values()
	return map[string]any{
		"body":      ec.Body(),
		"headers":   ec.Headers,
		"user":      ec.User,
		"meta":      meta,
		"requestId": ec.RequestID,
		"tenant":    ec.Meta.Tenant,
		"pipeline":  ec.Meta.Pipeline,
	}
}

// templateEnv carries the static types of Env for compilation.
func templateEnv() map[string]any {
	return map[string]any{
		"body":      map[string]any{},
		"headers":   map[string]string{},
		"user":      map[string]any{},
		"meta":      map[string]any{},
		"requestId": "",
		"tenant":    "",
		"pipeline":  "",
	}
}

// Truthy applies loose truthiness: nil, false, zero numbers, empty strings
// and empty collections are false; everything else is true.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

var _ ports.ConditionEvaluator = (*Evaluator)(nil)
