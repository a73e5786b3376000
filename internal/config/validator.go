package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/affix/internal/affix"
)

// Validate checks the config for:
//   - Required fields and known store drivers
//   - Duplicate actor ids and carrier names
//   - Carrier owners that name no seeded actor
//   - Affix records that do not match the affix schema
//
// All problems are reported in one error.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverBolt, DriverSQL:
		if cfg.Store.DSN == "" {
			errs = append(errs, fmt.Sprintf("store: dsn is required for driver %q", cfg.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q", cfg.Store.Driver))
	}
	if cfg.Engine.TickMs < 0 || cfg.Engine.QueueDepth < 0 || cfg.Engine.EventTimeoutMs < 0 || cfg.Engine.RuleCacheSize < 0 {
		errs = append(errs, "engine: settings must not be negative")
	}

	actors := make(map[string]bool, len(cfg.Actors))
	for i, a := range cfg.Actors {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("actors[%d]: id is required", i))
			continue
		}
		if actors[a.ID] {
			errs = append(errs, fmt.Sprintf("duplicate actor id %q", a.ID))
		}
		actors[a.ID] = true
		if a.MaxHealth < 0 {
			errs = append(errs, fmt.Sprintf("actor %s: max_health must not be negative", a.ID))
		}
	}

	carriers := make(map[string]bool, len(cfg.Carriers))
	for i, c := range cfg.Carriers {
		if c.Name == "" {
			errs = append(errs, fmt.Sprintf("carriers[%d]: name is required", i))
			continue
		}
		loc := fmt.Sprintf("carrier %s", c.Name)
		if carriers[c.Name] {
			errs = append(errs, fmt.Sprintf("duplicate carrier name %q", c.Name))
		}
		carriers[c.Name] = true
		if c.Type == "" {
			errs = append(errs, fmt.Sprintf("%s: type is required", loc))
		}
		if c.Owner != "" && !actors[c.Owner] {
			errs = append(errs, fmt.Sprintf("%s: owner %q is not a configured actor", loc, c.Owner))
		}
		for j, rec := range c.Affixes {
			if err := affix.Validate(rec); err != nil {
				errs = append(errs, fmt.Sprintf("%s.affixes[%d]: %v", loc, j, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
