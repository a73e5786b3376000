package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gyaneshwarpardhi/affix/internal/carrier"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "affix.db")
	s, err := Open(url)
	if err != nil {
		t.Fatal(err)
	}
	return s, url
}

func TestStore_UpsertAndReload(t *testing.T) {
	ctx := context.Background()
	s, url := openTemp(t)

	if err := s.Save(ctx, carrier.Record{Name: "ring", Type: "trinket", Attachments: map[string]any{"tier": 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, carrier.Record{Name: "ring", Type: "trinket", Owner: "hero", Attachments: map[string]any{"tier": 2}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, carrier.Record{Name: "axe", Type: "weapon"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "axe"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err := Open(url)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	recs, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("Load = %+v", recs)
	}
	if r := recs[0]; r.Owner != "hero" || r.Attachments["tier"] != float64(2) {
		t.Errorf("upsert did not replace the row: %+v", r)
	}
}

func TestOpen_RejectsUnknownScheme(t *testing.T) {
	if _, err := Open("mysql://localhost/affix"); err == nil {
		t.Error("Open accepted mysql")
	}
}

func TestQueries_AllNamed(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	for _, name := range []string{"create-carriers-table", "list-carriers", "upsert-carrier", "delete-carrier"} {
		if _, err := s.q.raw(name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}
