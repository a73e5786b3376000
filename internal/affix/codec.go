package affix

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/affix/internal/metrics"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
)

// Record keys of a serialized affix.
const (
	KeyID           = "id"
	KeyTrigger      = "trigger"
	KeyCondition    = "condition"
	KeyOperation    = "operation"
	KeyCooldown     = "cooldown"
	KeyTriggerCount = "triggerCount"
	KeySlot         = "slot"
	KeyPriority     = "priority"
)

var (
	ErrMissingOperation = errors.New("affix has no operation record")
	ErrUnknownOperation = errors.New("unknown operation type")
	ErrInvalidOperation = errors.New("operation could not be decoded")
)

// DecodeError reports why an affix record could not be decoded.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	if e.ID == "" {
		return "decode affix: " + e.Err.Error()
	}
	return fmt.Sprintf("decode affix %s: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Parse decodes rec through reg. Absent fields take their defaults and a
// missing id is replaced with a fresh uuid.
func Parse(rec operation.Record, reg *operation.Registry) (*Affix, error) {
	id := rec.String(KeyID, "")
	opRec, ok := rec.Record(KeyOperation)
	if !ok {
		return nil, &DecodeError{ID: id, Err: ErrMissingOperation}
	}
	typ := opRec.String("type", "")
	if !reg.Has(typ) {
		return nil, &DecodeError{ID: id, Err: fmt.Errorf("%w %q", ErrUnknownOperation, typ)}
	}
	op := reg.Create(opRec)
	if op == nil {
		return nil, &DecodeError{ID: id, Err: fmt.Errorf("%w: %s", ErrInvalidOperation, typ)}
	}

	if id == "" {
		id = uuid.New().String()
	}
	a := &Affix{
		ID:        id,
		Trigger:   rec.String(KeyTrigger, ""),
		Condition: rec.String(KeyCondition, ""),
		Operation: op,
		Cooldown:  rec.Int64(KeyCooldown, 0),
		Slot:      rec.String(KeySlot, ""),
		Priority:  rec.Int64(KeyPriority, 0),
	}
	a.SetTriggerCount(clampCount(rec.Int64(KeyTriggerCount, 0)))
	return a, nil
}

// clampCount fits a stored trigger count into int32 without wrapping.
func clampCount(n int64) int32 {
	switch {
	case n < 0:
		return 0
	case n > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(n)
}

// Decode is Parse for load paths: a failure is logged and counted, and nil
// is returned so one bad record never stops the rest of a list loading.
func Decode(rec operation.Record, reg *operation.Registry, logger *slog.Logger) *Affix {
	a, err := Parse(rec, reg)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		if !errors.Is(err, ErrInvalidOperation) {
			metrics.DecodeFailures.Inc() // the registry counted its own rejection
		}
		logger.Warn("affix dropped", "err", err)
		return nil
	}
	return a
}

// Encode returns the record Decode rebuilds a from. id, slot and priority are
// always written.
func Encode(a *Affix) operation.Record {
	rec := operation.Record{
		KeyID:           a.ID,
		KeyTrigger:      a.Trigger,
		KeyCondition:    a.Condition,
		KeyCooldown:     a.Cooldown,
		KeyTriggerCount: a.TriggerCount(),
		KeySlot:         a.Slot,
		KeyPriority:     a.Priority,
	}
	if a.Operation != nil {
		rec[KeyOperation] = map[string]any(a.Operation.Serialize())
	}
	return rec
}

// Peek reads the trigger string and operation type of a record without
// decoding the operation.
func Peek(rec operation.Record) (trigger, opType string) {
	trigger = rec.String(KeyTrigger, "")
	if opRec, ok := rec.Record(KeyOperation); ok {
		opType = opRec.String("type", "")
	}
	return trigger, opType
}
