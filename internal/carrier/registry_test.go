package carrier_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/storage/memstore"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// flaky fails every Save until ok is set.
type flaky struct {
	*memstore.Store
	ok bool
}

func (f *flaky) Save(ctx context.Context, r carrier.Record) error {
	if !f.ok {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, r)
}

func TestItem_DirtyTracking(t *testing.T) {
	src := map[string]any{"quality": "rare"}
	it := carrier.NewItem("sword", "weapon", "hero", src)
	src["quality"] = "junk"
	if v, _ := it.Attachment("quality"); v != "rare" {
		t.Errorf("item shares the caller's map: %v", v)
	}
	if it.Dirty() {
		t.Error("new item is dirty")
	}
	it.DeleteAttachment("missing")
	if it.Dirty() {
		t.Error("deleting an absent key marked the item dirty")
	}
	it.SetAttachment("level", 3)
	if !it.Dirty() {
		t.Error("SetAttachment did not mark dirty")
	}
	if snap := it.Snapshot(); snap.Attachments["level"] != 3 || !it.Dirty() {
		t.Error("Snapshot cleared the dirty flag")
	}
	if rec := it.Record(); rec.Name != "sword" || it.Dirty() {
		t.Errorf("Record = %+v, dirty = %v", rec, it.Dirty())
	}
}

func TestRegistry_CreateFlushLoad(t *testing.T) {
	ctx := context.Background()
	store := &flaky{Store: memstore.New()}
	reg := carrier.NewRegistry(store, quiet)

	if _, err := reg.Create("", "weapon", "", nil); err == nil {
		t.Error("Create accepted an empty name")
	}
	if _, err := reg.Create("sword", "weapon", "hero", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create("sword", "weapon", "hero", nil); !errors.Is(err, carrier.ErrExists) {
		t.Errorf("duplicate err = %v", err)
	}
	if _, err := reg.Create("amulet", "trinket", "", nil); err != nil {
		t.Fatal(err)
	}

	if n := reg.Flush(ctx); n != 0 {
		t.Errorf("flush with a failing store saved %d", n)
	}
	store.ok = true
	if n := reg.Flush(ctx); n != 2 {
		t.Errorf("retry flush saved %d, want 2", n)
	}
	if n := reg.Flush(ctx); n != 0 {
		t.Errorf("clean flush saved %d", n)
	}

	owned := reg.OwnedBy("hero")
	if len(owned) != 1 || owned[0].Name() != "sword" {
		t.Errorf("OwnedBy = %v", owned)
	}

	fresh := carrier.NewRegistry(store, quiet)
	n, err := fresh.Load(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Load = %d, %v", n, err)
	}
	if names := fresh.Names(); len(names) != 2 || names[0] != "amulet" {
		t.Errorf("Names = %v", names)
	}

	if err := fresh.Remove(ctx, "amulet"); err != nil {
		t.Fatal(err)
	}
	if err := fresh.Remove(ctx, "amulet"); !errors.Is(err, carrier.ErrNotFound) {
		t.Errorf("second remove err = %v", err)
	}
	recs, _ := store.Load(ctx)
	if len(recs) != 1 || recs[0].Name != "sword" {
		t.Errorf("store after remove = %+v", recs)
	}
}

func TestRegistry_MemoryOnly(t *testing.T) {
	reg := carrier.NewRegistry(nil, quiet)
	if _, err := reg.Create("sword", "weapon", "", nil); err != nil {
		t.Fatal(err)
	}
	if n := reg.Flush(context.Background()); n != 0 {
		t.Errorf("flush without a store saved %d", n)
	}
	if recs := reg.Records(); len(recs) != 1 {
		t.Errorf("Records = %+v", recs)
	}
}
