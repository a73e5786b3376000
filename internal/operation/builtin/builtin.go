// Package builtin registers the operations shipped with the engine.
package builtin

import (
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/operation/attribute"
	"github.com/gyaneshwarpardhi/affix/internal/operation/delayed"
	"github.com/gyaneshwarpardhi/affix/internal/operation/effect"
	"github.com/gyaneshwarpardhi/affix/internal/operation/health"
	"github.com/gyaneshwarpardhi/affix/internal/operation/points"
)

// Register installs every built-in operation factory on reg.
func Register(reg *operation.Registry) {
	reg.Register(points.Type, points.Factory)
	reg.Register(attribute.Type, attribute.Factory)
	reg.Register(effect.Type, effect.Factory)
	reg.Register(health.Type, health.Factory)
	reg.Register(delayed.Type, delayed.Factory(reg))
}
