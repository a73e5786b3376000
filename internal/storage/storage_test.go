package storage

import (
	"path/filepath"
	"testing"

	"github.com/gyaneshwarpardhi/affix/internal/config"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		conf    config.StoreConf
		wantErr bool
	}{
		{"default memory", config.StoreConf{}, false},
		{"bolt", config.StoreConf{Driver: config.DriverBolt, DSN: filepath.Join(dir, "c.db")}, false},
		{"sql", config.StoreConf{Driver: config.DriverSQL, DSN: "sqlite://" + filepath.Join(dir, "c.sqlite")}, false},
		{"unknown", config.StoreConf{Driver: "redis"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(tc.conf)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			s.Close()
		})
	}
}
