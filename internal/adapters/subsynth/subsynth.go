// Package subsynth synthesizes candidate subdomains from root domains. It
// needs no external binary, which also makes it the smoke-test adapter for
// the whole pipeline.
package subsynth

import (
	"context"
	"strings"
	"time"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/events"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/signalx"
)

var defaultPrefixes = []string{"test1", "test2", "test"}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) Metadata() adapter.Metadata {
	return adapter.Metadata{
		Name:      "subdomain-synth",
		Version:   "0.1.0",
		Produces:  []string{"dns.domain"},
		InputKind: adapter.InputDomain,
		Timeout:   5 * time.Minute,
	}
}

func (*Adapter) Generate(ctx context.Context, targets []string, cfg *model.BatchConfig, emit adapter.EmitFunc, hb *signalx.Reporter) (int, error) {
	prefixes := cfg.StringsParam("prefixes")
	if len(prefixes) == 0 {
		prefixes = defaultPrefixes
	}

	emitted := 0
	for i, root := range targets {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}
		root = strings.ToLower(root)
		for _, p := range prefixes {
			events.Emit(emit, events.DNSDomain{
				Name:   p + "." + root,
				Root:   root,
				Kind:   "subdomain",
				Parent: root,
			})
			emitted++
		}
		if (i+1)%500 == 0 {
			hb.Pulse()
		}
	}
	return emitted, nil
}
