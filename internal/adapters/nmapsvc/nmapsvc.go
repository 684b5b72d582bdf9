// Package nmapsvc runs nmap service detection through the Ullaakut/nmap
// bindings instead of hand-parsing XML, so it plugs in as a generator.
package nmapsvc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/events"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/signalx"
)

const defaultPorts = "22,25,53,80,443,445,3389,5432,5900,6443,8080,8443,9090,9100"

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) Metadata() adapter.Metadata {
	return adapter.Metadata{
		Name:      "nmap-service",
		Version:   "7.95",
		Produces:  []string{"network.service"},
		InputKind: adapter.InputIP,
		Timeout:   time.Hour,
	}
}

func (*Adapter) Generate(ctx context.Context, targets []string, cfg *model.BatchConfig, emit adapter.EmitFunc, hb *signalx.Reporter) (int, error) {
	opts := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPorts(cfg.StringParam("ports", defaultPorts)),
	}
	if cfg.BoolParam("service_detection", true) {
		opts = append(opts, nmap.WithServiceInfo())
	}
	if cfg.BoolParam("skip_host_discovery", false) {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return 0, fmt.Errorf("create scanner: %w", err)
	}
	result, warnings, err := scanner.Run()
	if err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		slog.WarnContext(ctx, "nmap warnings", slog.Any("warnings", *warnings))
	}

	emitted := 0
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}
		ip := hostIP(host)
		hb.Pulse()
		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			events.Emit(emit, events.NetworkService{
				IP:       ip,
				Port:     int(port.ID),
				Protocol: port.Protocol,
				Banner:   bannerOf(port),
			})
			emitted++
		}
	}
	return emitted, nil
}

func hostIP(host nmap.Host) string {
	for _, addr := range host.Addresses {
		if addr.AddrType == "ipv4" {
			return addr.Addr
		}
	}
	return host.Addresses[0].Addr
}

func bannerOf(port nmap.Port) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{port.Service.Name, port.Service.Product, port.Service.Version} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
