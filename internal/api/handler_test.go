package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gyaneshwarpardhi/affix/internal/config"
	"github.com/gyaneshwarpardhi/affix/internal/engine"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const seedYAML = `
version: v1
actors:
  - {id: hero, type: player, attributes: {strength: 10}}
  - {id: foe, type: monster}
carriers:
  - name: sword
    type: weapon
    owner: hero
    affixes:
      - trigger: on_hit
        operation: {type: health, amount: "-5", target: target}
`

func newServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "affixes.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	loader, err := config.NewLoader(path, quiet)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng, err := engine.New(ctx, engine.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.ApplyConfig(loader.Config()); err != nil {
		t.Fatal(err)
	}
	loader.OnChange(func(cfg *config.Config) {
		if err := eng.ApplyConfig(cfg); err != nil {
			t.Errorf("ApplyConfig: %v", err)
		}
	})
	srv := httptest.NewServer(New(eng, loader))
	t.Cleanup(srv.Close)
	return srv, path
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestEvents(t *testing.T) {
	srv, _ := newServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"no triggers", `{"actor_id":"hero"}`, http.StatusBadRequest},
		{"hit", `{"triggers":["on_hit"],"actor_id":"hero","target_id":"foe"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := call(t, srv, http.MethodPost, "/v1/events", tc.body)
			if code != tc.want {
				t.Fatalf("status = %d, want %d (%v)", code, tc.want, body)
			}
		})
	}

	code, foe := call(t, srv, http.MethodGet, "/v1/actors/foe", "")
	if code != http.StatusOK || foe["health"] != float64(95) {
		t.Errorf("foe = %d %v", code, foe)
	}

	code, body := call(t, srv, http.MethodPost, "/v1/events/batch", `[{"triggers":["on_hit"],"actor_id":"hero"},{"actor_id":"hero"}]`)
	if code != http.StatusAccepted || body["queued"] != float64(1) || body["rejected"] != float64(1) {
		t.Errorf("batch = %d %v", code, body)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/events/batch", `[]`); code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d", code)
	}
}

func TestCarrierLifecycle(t *testing.T) {
	srv, _ := newServer(t)

	code, body := call(t, srv, http.MethodPost, "/v1/carriers",
		`{"name":"ring","type":"trinket","owner":"hero","affixes":[{"trigger":"on_equip","operation":{"type":"attribute_modifier","attribute":"strength","amount":5}}]}`)
	if code != http.StatusCreated || body["identity"] == "" {
		t.Fatalf("create = %d %v", code, body)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/carriers", `{"name":"ring","type":"trinket"}`); code != http.StatusConflict {
		t.Errorf("duplicate create status = %d", code)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/carriers", `{"name":"x","type":"y","affixes":[{"trigger":"t"}]}`); code != http.StatusUnprocessableEntity {
		t.Errorf("invalid affix status = %d", code)
	}

	code, _ = call(t, srv, http.MethodPost, "/v1/events", `{"triggers":["on_equip"],"actor_id":"hero","carriers":[{"name":"ring","slot":"finger"}]}`)
	if code != http.StatusOK {
		t.Fatalf("equip status = %d", code)
	}
	_, hero := call(t, srv, http.MethodGet, "/v1/actors/hero", "")
	if attrs := hero["attributes"].(map[string]interface{}); attrs["strength"] != float64(15) {
		t.Errorf("strength after equip = %v", attrs["strength"])
	}

	code, body = call(t, srv, http.MethodPost, "/v1/carriers/ring/detach", `{"slot":"finger"}`)
	if code != http.StatusOK || len(body["executions"].([]interface{})) != 1 {
		t.Fatalf("detach = %d %v", code, body)
	}
	_, hero = call(t, srv, http.MethodGet, "/v1/actors/hero", "")
	if attrs := hero["attributes"].(map[string]interface{}); attrs["strength"] != float64(10) {
		t.Errorf("strength after detach = %v", attrs["strength"])
	}

	code, body = call(t, srv, http.MethodPost, "/v1/carriers/ring/affixes", `{"trigger":"on_kill","operation":{"type":"reward_points","points":3}}`)
	if code != http.StatusCreated || body["index"] != float64(1) {
		t.Fatalf("add affix = %d %v", code, body)
	}
	_, body = call(t, srv, http.MethodGet, "/v1/carriers/ring/affixes", "")
	if list := body["affixes"].([]interface{}); len(list) != 2 {
		t.Errorf("affixes = %v", list)
	}

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/v1/carriers/ring/affixes/abc", http.StatusBadRequest},
		{"/v1/carriers/ring/affixes/9", http.StatusNotFound},
		{"/v1/carriers/ghost/affixes/0", http.StatusNotFound},
		{"/v1/carriers/ring/affixes/0", http.StatusOK},
		{"/v1/carriers/ring/affixes", http.StatusOK},
	} {
		if code, body := call(t, srv, http.MethodDelete, tc.path, ""); code != tc.want {
			t.Errorf("DELETE %s = %d, want %d (%v)", tc.path, code, tc.want, body)
		}
	}
	_, body = call(t, srv, http.MethodGet, "/v1/carriers/ring", "")
	if list := body["affixes"].([]interface{}); len(list) != 0 {
		t.Errorf("affixes after clear = %v", list)
	}
	if code, _ := call(t, srv, http.MethodGet, "/v1/carriers/ghost", ""); code != http.StatusNotFound {
		t.Errorf("unknown carrier status = %d", code)
	}
}

func TestExpressions(t *testing.T) {
	srv, _ := newServer(t)

	code, body := call(t, srv, http.MethodPost, "/v1/expressions/evaluate",
		`{"expression":"self.attribute.strength + x","actor_id":"hero","vars":{"x":2}}`)
	if code != http.StatusOK || body["value"] != float64(12) || body["kind"] != "number" {
		t.Errorf("evaluate = %d %v", code, body)
	}
	code, body = call(t, srv, http.MethodPost, "/v1/expressions/evaluate", `{"expression":"1 / 0"}`)
	if code != http.StatusUnprocessableEntity || !strings.Contains(body["error"].(string), "division") {
		t.Errorf("division by zero = %d %v", code, body)
	}
	code, body = call(t, srv, http.MethodPost, "/v1/expressions/cache/clear", "")
	if code != http.StatusOK || body["cleared"].(float64) < 1 {
		t.Errorf("cache clear = %d %v", code, body)
	}
}

func TestReloadAndProbes(t *testing.T) {
	srv, path := newServer(t)

	more := seedYAML + `  - name: shield
    type: armor
    owner: hero
`
	if err := os.WriteFile(path, []byte(more), 0o644); err != nil {
		t.Fatal(err)
	}
	code, body := call(t, srv, http.MethodPost, "/v1/config/reload", "")
	if code != http.StatusOK || body["carriers"] != float64(2) {
		t.Fatalf("reload = %d %v", code, body)
	}
	if code, _ := call(t, srv, http.MethodGet, "/v1/carriers/shield", ""); code != http.StatusOK {
		t.Errorf("reloaded carrier not seeded: %d", code)
	}

	if err := os.WriteFile(path, []byte("engine: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/config/reload", ""); code != http.StatusUnprocessableEntity {
		t.Errorf("invalid reload status = %d", code)
	}

	for _, p := range []string{"/healthz", "/readyz"} {
		if code, _ := call(t, srv, http.MethodGet, p, ""); code != http.StatusOK {
			t.Errorf("%s = %d", p, code)
		}
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "affix_events_processed_total") {
		t.Error("metrics missing affix counters")
	}
}
