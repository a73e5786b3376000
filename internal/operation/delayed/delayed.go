package delayed

import (
	"fmt"
	"strconv"

	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/schedule"
)

const Type = "delayed"

// Delayed runs a nested operation after a number of ticks. Every pending run
// is tracked so Remove can cancel runs that have not happened yet.
type Delayed struct {
	Delay string // expression in ticks
	Inner operation.Operation
}

// Factory returns a factory that decodes the nested operation through reg.
func Factory(reg *operation.Registry) operation.Factory {
	return func(rec operation.Record) (operation.Operation, error) {
		innerRec, ok := rec.Record("operation")
		if !ok {
			return nil, fmt.Errorf("delayed: nested operation is required")
		}
		inner := reg.Create(innerRec)
		if inner == nil {
			return nil, fmt.Errorf("delayed: nested operation %q could not be decoded", innerRec.String("type", ""))
		}
		return &Delayed{Delay: rec.Expr("delay", "0"), Inner: inner}, nil
	}
}

func (d *Delayed) Type() string { return Type }

func (d *Delayed) prefix(ctx *operation.Context) string {
	return ctx.Key(Type) + "|"
}

func (d *Delayed) Apply(ctx *operation.Context) error {
	ticks := int64(ctx.Eval(d.Delay))
	snapshot := *ctx
	tr := ctx.Track()

	var key string
	var task schedule.TaskID
	task = ctx.Schedule(ticks, func() {
		tr.TakeIf(key, task)
		if err := d.Inner.Apply(&snapshot); err != nil {
			snapshot.Log().Warn("delayed operation failed", "operation", d.Inner.Type(), "err", err)
		}
	})
	if task == 0 {
		return fmt.Errorf("delayed: run could not be scheduled")
	}
	key = d.prefix(ctx) + strconv.FormatUint(uint64(task), 10)
	tr.Put(key, operation.Applied{ActorID: ctx.OwnerID(), Task: task})
	return nil
}

func (d *Delayed) Remove(ctx *operation.Context) error {
	for _, a := range ctx.Track().TakePrefix(d.prefix(ctx)) {
		ctx.Cancel(a.Task)
	}
	return d.Inner.Remove(ctx)
}

func (d *Delayed) Serialize() operation.Record {
	return operation.Record{
		"type":      Type,
		"delay":     d.Delay,
		"operation": map[string]any(d.Inner.Serialize()),
	}
}
