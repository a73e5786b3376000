package expr

import (
	"fmt"

	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// Eval runs the program against env on a value stack.
func (p *Program) Eval(env *vars.Env) (vars.Value, error) {
	if env == nil {
		env = vars.NewEnv()
	}
	stack := make([]vars.Value, 0, len(p.code))

	pop := func(op string, n int) ([]vars.Value, error) {
		if len(stack) < n {
			return nil, evalErr(op, ErrStackUnderflow)
		}
		args := make([]vars.Value, n)
		copy(args, stack[len(stack)-n:])
		stack = stack[:len(stack)-n]
		return args, nil
	}

	for _, in := range p.code {
		switch in.kind {
		case instNumber:
			stack = append(stack, vars.Number(in.num))
		case instString:
			stack = append(stack, vars.String(in.str))
		case instVar:
			v, err := env.Lookup(in.str)
			if err != nil {
				return vars.Value{}, evalErr(in.str, ErrUnknownVariable)
			}
			switch v.Kind() {
			case vars.KindBool:
				v = vars.Number(v.Num())
			case vars.KindNumber, vars.KindString:
			default:
				return vars.Value{}, evalErr(in.str, fmt.Errorf("%w (%s)", ErrNotScalar, v.Kind()))
			}
			stack = append(stack, v)
		case instUnary:
			args, err := pop(in.str, 1)
			if err != nil {
				return vars.Value{}, err
			}
			stack = append(stack, applyUnary(in.str, args[0]))
		case instBinary:
			args, err := pop(in.str, 2)
			if err != nil {
				return vars.Value{}, err
			}
			v, err := applyBinary(in.str, args[0], args[1])
			if err != nil {
				return vars.Value{}, err
			}
			stack = append(stack, v)
		case instCall:
			fn, ok := functions[in.str]
			if !ok {
				return vars.Value{}, evalErr(in.str, ErrUnknownFunction)
			}
			args, err := pop(in.str, fn.argc)
			if err != nil {
				return vars.Value{}, err
			}
			nums := make([]float64, len(args))
			for i, a := range args {
				nums[i] = a.Num()
			}
			stack = append(stack, vars.Number(fn.fn(nums)))
		}
	}

	if len(stack) != 1 {
		return vars.Value{}, evalErr("", fmt.Errorf("%w (stack holds %d)", ErrStackArity, len(stack)))
	}
	return stack[0], nil
}
