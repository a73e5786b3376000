package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/storage/snapshot"
)

// WriteSnapshot dumps the tick, every carrier and every actor to path.
func (e *Engine) WriteSnapshot(path string) error {
	e.mu.Lock()
	snap := snapshot.Snapshot{
		Header:   snapshot.Header{Tick: e.tick.Load(), TakenAt: time.Now().UnixMilli()},
		Carriers: e.carriers.Records(),
	}
	for _, id := range e.world.IDs() {
		if ent, ok := e.world.Entity(id); ok {
			snap.Actors = append(snap.Actors, ent.Snapshot())
		}
	}
	e.mu.Unlock()
	return snapshot.Write(path, snap)
}

// Restore loads a snapshot written by WriteSnapshot. The tick resumes from
// the snapshot; actors and carriers already present are kept as they are. A
// missing file is not an error.
func (e *Engine) Restore(path string) error {
	snap, err := snapshot.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick.Store(snap.Header.Tick)
	actors, carriers := 0, 0
	for _, s := range snap.Actors {
		if _, ok := e.world.Entity(s.ID); ok {
			continue
		}
		e.world.Add(actor.Restore(s))
		actors++
	}
	for _, rec := range snap.Carriers {
		if _, ok := e.carriers.Get(rec.Name); ok {
			continue
		}
		if _, err := e.carriers.Create(rec.Name, rec.Type, rec.Owner, rec.Attachments); err != nil {
			e.logger.Warn("snapshot carrier skipped", "carrier", rec.Name, "err", err)
			continue
		}
		carriers++
	}
	e.logger.Info("snapshot restored", "path", path, "tick", snap.Header.Tick,
		"actors", actors, "carriers", carriers)
	return nil
}
