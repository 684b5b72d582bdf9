// Package adapters ties the concrete tool integrations to a registry.
package adapters

import (
	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/adapters/httpx"
	"github.com/chudamax/asm4-adapter-runtime/internal/adapters/masscan"
	"github.com/chudamax/asm4-adapter-runtime/internal/adapters/nmapsvc"
	"github.com/chudamax/asm4-adapter-runtime/internal/adapters/subsynth"
)

// RegisterAll adds every built-in adapter to the registry.
func RegisterAll(r *adapter.Registry) {
	r.MustRegister(subsynth.New())
	r.MustRegister(httpx.New())
	r.MustRegister(masscan.New())
	r.MustRegister(nmapsvc.New())
}
