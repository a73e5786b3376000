// Package rules keeps the affix lists attached to carriers: decoding them
// through a bounded cache, mutating them and tracking per-rule cooldowns.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gyaneshwarpardhi/affix/internal/affix"
	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/metrics"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
)

// DefaultCacheSize bounds the rule cache when no size is configured.
const DefaultCacheSize = 4096

// ErrIndexOutOfRange is returned for rule indices past the end of a list.
var ErrIndexOutOfRange = errors.New("affix index out of range")

type signature struct {
	trigger string
	opType  string
}

type entry struct {
	affixes []*affix.Affix
	sigs    []signature
}

// Manager owns the rule cache and cooldown state for every carrier. It is
// safe for concurrent use.
type Manager struct {
	reg    *operation.Registry
	cache  *lru.Cache[string, *entry]
	logger *slog.Logger

	mu        sync.RWMutex
	cooldowns map[string]map[int]int64 // identity -> index -> ready-at tick
}

// NewManager creates a manager decoding through reg. A cacheSize <= 0 uses
// DefaultCacheSize.
func NewManager(reg *operation.Registry, cacheSize int, logger *slog.Logger) (*Manager, error) {
	if reg == nil {
		return nil, fmt.Errorf("rules: operation registry is required")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, *entry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("rules: create cache: %w", err)
	}
	return &Manager{
		reg:       reg,
		cache:     cache,
		logger:    logger,
		cooldowns: make(map[string]map[int]int64),
	}, nil
}

// Rules returns the carrier's decoded affixes, aligned with the stored
// records: an undecodable record yields a nil entry at its index.
//
// A cached list is reused only if the stored list has the same length and,
// per index, the same trigger string and operation type. Other fields are
// not compared, so an out-of-band edit that keeps both is served stale until
// the next mutation through the manager.
func (m *Manager) Rules(c carrier.Carrier) []*affix.Affix {
	id := m.Identity(c)
	recs := records(c)

	if e, ok := m.cache.Get(id); ok {
		if e.matches(recs) {
			metrics.RuleCacheLookups.WithLabelValues("hit").Inc()
			return e.affixes
		}
		metrics.RuleCacheLookups.WithLabelValues("stale").Inc()
	} else {
		metrics.RuleCacheLookups.WithLabelValues("miss").Inc()
	}

	e := &entry{affixes: make([]*affix.Affix, len(recs)), sigs: make([]signature, len(recs))}
	for i, rec := range recs {
		e.sigs[i] = peek(rec)
		if rec == nil {
			m.logger.Warn("affix record is not a mapping", "carrier", c.Name(), "index", i)
			continue
		}
		e.affixes[i] = affix.Decode(rec, m.reg, m.logger.With("carrier", c.Name(), "index", i))
	}
	m.cache.Add(id, e)
	return e.affixes
}

func (e *entry) matches(recs []operation.Record) bool {
	if len(e.sigs) != len(recs) {
		return false
	}
	for i, rec := range recs {
		if e.sigs[i] != peek(rec) {
			return false
		}
	}
	return true
}

func peek(rec operation.Record) signature {
	if rec == nil {
		return signature{}
	}
	t, op := affix.Peek(rec)
	return signature{trigger: t, opType: op}
}

// AddRule appends a to the carrier's list and returns its index. The first
// rule fixes the carrier's identity.
func (m *Manager) AddRule(c carrier.Carrier, a *affix.Affix) (int, error) {
	if a == nil || a.Operation == nil {
		return 0, fmt.Errorf("rules: affix without operation")
	}
	list := rawList(c)
	list = append(list, map[string]any(affix.Encode(a)))
	c.SetAttachment(AttachmentAffixes, list)
	id := m.Identity(c)
	m.cache.Remove(id)
	m.logger.Debug("affix added", "carrier", c.Name(), "identity", id, "affix", a.ID)
	return len(list) - 1, nil
}

// RemoveRule runs the rule's Remove against ctx and deletes it from the
// carrier. ctx may be nil to skip the undo. Cooldowns of later rules move
// down with them.
func (m *Manager) RemoveRule(c carrier.Carrier, index int, ctx *operation.Context) error {
	list := rawList(c)
	if index < 0 || index >= len(list) {
		return fmt.Errorf("%w: %d (carrier %s has %d)", ErrIndexOutOfRange, index, c.Name(), len(list))
	}
	id := m.Identity(c)

	if ctx != nil {
		if rules := m.Rules(c); index < len(rules) && rules[index] != nil {
			m.undo(c, id, rules[index], ctx)
		}
	}

	list = append(list[:index:index], list[index+1:]...)
	if len(list) == 0 {
		c.DeleteAttachment(AttachmentAffixes)
	} else {
		c.SetAttachment(AttachmentAffixes, list)
	}
	m.cache.Remove(id)
	m.shiftCooldowns(id, index)
	return nil
}

func (m *Manager) undo(c carrier.Carrier, id string, a *affix.Affix, tmpl *operation.Context) {
	ctx := *tmpl
	ctx.Carrier = c
	ctx.CarrierID = id
	ctx.AffixID = a.ID
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("affix remove panicked", "carrier", c.Name(), "affix", a.ID, "panic", r)
		}
	}()
	if err := a.Operation.Remove(&ctx); err != nil {
		m.logger.Warn("affix remove failed", "carrier", c.Name(), "affix", a.ID, "err", err)
	}
}

// ClearRules deletes every rule and cooldown of the carrier. Operations are
// not undone.
func (m *Manager) ClearRules(c carrier.Carrier) {
	id := m.Identity(c)
	c.DeleteAttachment(AttachmentAffixes)
	m.cache.Remove(id)
	m.mu.Lock()
	delete(m.cooldowns, id)
	m.mu.Unlock()
}

// RecordTrigger bumps the trigger count of the rule at index and writes it
// back to the carrier. It returns the new count.
func (m *Manager) RecordTrigger(c carrier.Carrier, index int) (int32, error) {
	rules := m.Rules(c)
	if index < 0 || index >= len(rules) || rules[index] == nil {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	n := rules[index].IncTriggerCount()

	list := rawList(c)
	if index >= len(list) {
		return n, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if rec := toRecord(list[index]); rec != nil {
		rec = rec.Clone()
		rec[affix.KeyTriggerCount] = n
		list[index] = map[string]any(rec)
		c.SetAttachment(AttachmentAffixes, list)
	}
	return n, nil
}

// IsCooldownOver reports whether the rule at index may run at tick now.
func (m *Manager) IsCooldownOver(c carrier.Carrier, index int, now int64) bool {
	id := m.Identity(c)
	m.mu.RLock()
	defer m.mu.RUnlock()
	readyAt, ok := m.cooldowns[id][index]
	return !ok || readyAt <= now
}

// SetCooldown blocks the rule at index until now+ticks. ticks <= 0 is a
// no-op.
func (m *Manager) SetCooldown(c carrier.Carrier, index int, ticks, now int64) {
	if ticks <= 0 {
		return
	}
	id := m.Identity(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex, ok := m.cooldowns[id]
	if !ok {
		byIndex = make(map[int]int64)
		m.cooldowns[id] = byIndex
	}
	byIndex[index] = now + ticks
}

// ReadyAt returns the tick the rule at index becomes eligible again.
func (m *Manager) ReadyAt(c carrier.Carrier, index int) (int64, bool) {
	id := m.Identity(c)
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.cooldowns[id][index]
	return t, ok
}

func (m *Manager) shiftCooldowns(id string, removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex, ok := m.cooldowns[id]
	if !ok {
		return
	}
	shifted := make(map[int]int64, len(byIndex))
	for i, t := range byIndex {
		switch {
		case i < removed:
			shifted[i] = t
		case i > removed:
			shifted[i-1] = t
		}
	}
	if len(shifted) == 0 {
		delete(m.cooldowns, id)
		return
	}
	m.cooldowns[id] = shifted
}

// Purge drops every cached rule list.
func (m *Manager) Purge() { m.cache.Purge() }

// CacheLen returns the number of cached rule lists.
func (m *Manager) CacheLen() int { return m.cache.Len() }

// Records returns the carrier's stored affix records. Entries that are not
// mappings come back nil so indices stay aligned.
func Records(c carrier.Carrier) []operation.Record { return records(c) }

func records(c carrier.Carrier) []operation.Record {
	list := rawList(c)
	out := make([]operation.Record, len(list))
	for i, v := range list {
		out[i] = toRecord(v)
	}
	return out
}

// rawList returns a copy of the stored list so callers can edit it freely.
func rawList(c carrier.Carrier) []any {
	v, ok := c.Attachment(AttachmentAffixes)
	if !ok || v == nil {
		return nil
	}
	switch l := v.(type) {
	case []any:
		out := make([]any, len(l))
		copy(out, l)
		return out
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out
	case []operation.Record:
		out := make([]any, len(l))
		for i, r := range l {
			out[i] = map[string]any(r)
		}
		return out
	}
	return nil
}

func toRecord(v any) operation.Record {
	switch m := v.(type) {
	case operation.Record:
		return m
	case map[string]any:
		return operation.Record(m)
	}
	return nil
}
