package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ResourceRef declares one external resource a tool needs before it can run:
// a wordlist, a template bundle, an exclusion file. Declared in the manifest,
// resolved by the materializer into the staging directory.
type ResourceRef struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	SHA256   string `json:"sha256,omitempty"`
	Filename string `json:"filename,omitempty"`
	Extract  bool   `json:"extract,omitempty"`
}

// DestName is the staging filename for the resource: explicit filename,
// otherwise the last URL path element, otherwise the resource name.
func (r ResourceRef) DestName() string {
	if r.Filename != "" {
		return r.Filename
	}
	raw := r.URL
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		raw = raw[i+1:]
	}
	if raw != "" {
		return raw
	}
	return r.Name
}

// Profile references the tool profile the planner selected for this batch.
// Carried opaquely; profile resolution happens upstream.
type Profile struct {
	Slug    string `json:"slug"`
	Version string `json:"version,omitempty"`
}

// BatchConfig is the immutable per-run configuration assembled from the
// manifest and the launcher environment. Owned by the run controller and
// passed by pointer to every stage; no stage mutates it after run start.
type BatchConfig struct {
	TenantID    string
	RunID       string
	BatchID     string
	Tool        string
	ToolVersion string
	Parameters  map[string]any
	Resources   []ResourceRef
	Profile     *Profile

	// ResourcesDir is the staging directory holding materialized resources.
	// Set once by the controller before the driver starts.
	ResourcesDir string
}

// StringParam returns a parameter coerced to string. Numeric values are
// formatted; absent or non-scalar values yield def.
func (c *BatchConfig) StringParam(name, def string) string {
	v, ok := c.Parameters[name]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return def
	}
}

// IntParam returns a parameter coerced to int, or def.
func (c *BatchConfig) IntParam(name string, def int) int {
	v, ok := c.Parameters[name]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// BoolParam returns a parameter coerced to bool, or def.
func (c *BatchConfig) BoolParam(name string, def bool) bool {
	v, ok := c.Parameters[name]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

// StringsParam returns a parameter coerced to a string slice. A scalar value
// becomes a single-element slice; list values are stringified element-wise.
func (c *BatchConfig) StringsParam(name string) []string {
	v, ok := c.Parameters[name]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return []string{fmt.Sprint(t)}
	}
}
