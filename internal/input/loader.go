// Package input loads the two batch inputs: the newline-delimited target
// list and the run manifest.
package input

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chudamax/asm4-adapter-runtime/internal/blob"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
)

// manifestDoc mirrors the manifest wire format. Unknown top-level fields
// are ignored for forward compatibility.
type manifestDoc struct {
	Tool string `json:"tool"`
	// tool_version appears both as a string and as a bare number in the
	// wild; accept either and stringify.
	ToolVersion any                 `json:"tool_version"`
	Parameters  map[string]any      `json:"parameters"`
	Resources   []model.ResourceRef `json:"resources"`
	ToolProfile *model.Profile      `json:"tool_profile"`
}

func (d manifestDoc) version() string {
	if d.ToolVersion == nil {
		return ""
	}
	return fmt.Sprint(d.ToolVersion)
}

// Loader reads targets and manifests through the blob client.
type Loader struct {
	blob *blob.Client
}

func NewLoader(bc *blob.Client) *Loader {
	return &Loader{blob: bc}
}

// Targets loads the target list from rawURL. Lines are trimmed, blank lines
// dropped, order preserved; dedup and validation are the planner's job.
func (l *Loader) Targets(ctx context.Context, rawURL string) ([]string, error) {
	raw, err := l.blob.Get(ctx, rawURL)
	if err != nil {
		return nil, &model.LoadError{Source: "target list", Err: err}
	}
	return ParseTargets(raw), nil
}

// ParseTargets splits raw into non-empty trimmed lines.
func ParseTargets(raw []byte) []string {
	var targets []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		targets = append(targets, line)
	}
	return targets
}

// Manifest loads the run manifest from rawURL and merges it with the
// launcher settings into a BatchConfig. An empty rawURL yields a config
// built from env identity alone, as local runs have no manifest.
func (l *Loader) Manifest(ctx context.Context, rawURL string, st model.Settings, defaultTool, defaultVersion string) (*model.BatchConfig, error) {
	cfg := &model.BatchConfig{
		TenantID:    st.TenantID,
		RunID:       st.RunID,
		BatchID:     st.BatchID,
		Tool:        defaultTool,
		ToolVersion: defaultVersion,
		Parameters:  map[string]any{},
	}
	if rawURL == "" {
		return cfg, nil
	}

	var doc manifestDoc
	if err := l.blob.GetJSON(ctx, rawURL, &doc); err != nil {
		return nil, &model.LoadError{Source: "manifest", Err: err}
	}
	if err := ApplyManifest(cfg, doc.Tool, doc.version(), doc.Parameters, doc.Resources, doc.ToolProfile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyManifest overlays manifest fields on cfg. Tool and tool_version are
// required: a manifest that names neither and a config with no default is a
// fatal load error.
func ApplyManifest(cfg *model.BatchConfig, tool, toolVersion string, params map[string]any, resources []model.ResourceRef, profile *model.Profile) error {
	if tool != "" {
		cfg.Tool = tool
	}
	if toolVersion != "" {
		cfg.ToolVersion = toolVersion
	}
	if cfg.Tool == "" {
		return &model.LoadError{Source: "manifest", Err: errors.New("missing required field tool")}
	}
	if cfg.ToolVersion == "" {
		return &model.LoadError{Source: "manifest", Err: errors.New("missing required field tool_version")}
	}
	if params != nil {
		cfg.Parameters = params
	}
	cfg.Resources = resources
	cfg.Profile = profile

	// Extracted resources additionally claim a directory named after the
	// resource, so those names participate in the collision check too.
	seen := make(map[string]string, len(resources))
	claim := func(dest, owner string) error {
		if prev, ok := seen[dest]; ok {
			return &model.LoadError{
				Source: "manifest",
				Err:    fmt.Errorf("resources %q and %q share destination %q", prev, owner, dest),
			}
		}
		seen[dest] = owner
		return nil
	}
	for _, r := range resources {
		if err := claim(r.DestName(), r.Name); err != nil {
			return err
		}
		if r.Extract {
			if err := claim(r.Name, r.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
