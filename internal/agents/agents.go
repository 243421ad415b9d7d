// Package agents wires the built-in pipeline agents into a registry.
package agents

import (
	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/completeness"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/elicitor"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/extractor"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/mapper"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/resolution"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/validator"
)

// RegisterBuiltins installs all of the built-in agent factories into the
// provided registry.
func RegisterBuiltins(reg *agent.Registry) {
	if reg == nil {
		return
	}
	elicitor.Register(reg)
	completeness.Register(reg)
	validator.Register(reg)
	extractor.Register(reg)
	mapper.Register(reg)
	resolution.Register(reg)
}
