package model

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Settings is the launcher-injected runtime configuration. The launcher
// speaks environment variables; an optional YAML file supplies defaults for
// local runs. Precedence: flags > environment > file > defaults.
type Settings struct {
	InputsURL   string `yaml:"inputs_url"`
	ManifestURL string `yaml:"manifest_url"`
	OutputURL   string `yaml:"output_url"`
	SignalURL   string `yaml:"signal_url"`

	TenantID string `yaml:"tenant_id"`
	RunID    string `yaml:"run_id"`
	BatchID  string `yaml:"batch_id"`

	OCSPrefix       string `yaml:"ocs_prefix"`
	ToolImageDigest string `yaml:"tool_image_digest"`

	HeartbeatSeconds     int  `yaml:"heartbeat_seconds"`
	FetchRetries         int  `yaml:"fetch_retries"`
	SignalTimeoutSeconds int  `yaml:"signal_timeout_seconds"`
	RunTimeoutSeconds    int  `yaml:"run_timeout_seconds"`
	PreserveWorkdir      bool `yaml:"preserve_workdir"`
	Verbose              bool `yaml:"verbose"`

	// Workdir pins the scratch directory instead of a fresh temp dir; it is
	// never removed. Local debugging only.
	Workdir string `yaml:"workdir"`

	S3 S3Settings `yaml:"s3"`
}

// S3Settings configure the object-store client backing s3:// URLs.
type S3Settings struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DefaultSettings returns the documented safe defaults.
func DefaultSettings() Settings {
	return Settings{
		HeartbeatSeconds:     30,
		FetchRetries:         2,
		SignalTimeoutSeconds: 10,
		RunTimeoutSeconds:    0, // adapter budget decides
	}
}

// MergeFile overlays YAML settings from r. Zero values in the file leave
// the current value untouched for the interval/retry knobs.
func (s *Settings) MergeFile(r io.Reader) error {
	var file Settings
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	overlayString(&s.InputsURL, file.InputsURL)
	overlayString(&s.ManifestURL, file.ManifestURL)
	overlayString(&s.OutputURL, file.OutputURL)
	overlayString(&s.SignalURL, file.SignalURL)
	overlayString(&s.TenantID, file.TenantID)
	overlayString(&s.RunID, file.RunID)
	overlayString(&s.BatchID, file.BatchID)
	overlayString(&s.OCSPrefix, file.OCSPrefix)
	overlayString(&s.ToolImageDigest, file.ToolImageDigest)
	overlayInt(&s.HeartbeatSeconds, file.HeartbeatSeconds)
	overlayInt(&s.FetchRetries, file.FetchRetries)
	overlayInt(&s.SignalTimeoutSeconds, file.SignalTimeoutSeconds)
	overlayInt(&s.RunTimeoutSeconds, file.RunTimeoutSeconds)
	s.PreserveWorkdir = s.PreserveWorkdir || file.PreserveWorkdir
	s.Verbose = s.Verbose || file.Verbose
	overlayString(&s.Workdir, file.Workdir)
	overlayString(&s.S3.Endpoint, file.S3.Endpoint)
	overlayString(&s.S3.AccessKey, file.S3.AccessKey)
	overlayString(&s.S3.SecretKey, file.S3.SecretKey)
	overlayString(&s.S3.Region, file.S3.Region)
	s.S3.UseSSL = s.S3.UseSSL || file.S3.UseSSL
	return nil
}

// MergeEnv overlays the launcher environment contract. lookup is os.LookupEnv
// in production, injectable for tests.
func (s *Settings) MergeEnv(lookup func(string) (string, bool)) {
	envString(lookup, "INPUTS_URL", &s.InputsURL)
	envString(lookup, "RESOURCES_MANIFEST_URL", &s.ManifestURL)
	envString(lookup, "OUTPUT_URL", &s.OutputURL)
	envString(lookup, "SIGNAL_URL", &s.SignalURL)
	envString(lookup, "TENANT_ID", &s.TenantID)
	envString(lookup, "RUN_ID", &s.RunID)
	envString(lookup, "BATCH_ID", &s.BatchID)
	envString(lookup, "OCS_PREFIX", &s.OCSPrefix)
	envString(lookup, "TOOL_IMAGE_DIGEST", &s.ToolImageDigest)
	envInt(lookup, "HEARTBEAT_SECONDS", &s.HeartbeatSeconds)
	envInt(lookup, "FETCH_RETRIES", &s.FetchRetries)
	envInt(lookup, "SIGNAL_TIMEOUT_SECONDS", &s.SignalTimeoutSeconds)
	envInt(lookup, "RUN_TIMEOUT_SECONDS", &s.RunTimeoutSeconds)
	envBool(lookup, "ADAPTER_PRESERVE_WORKDIR", &s.PreserveWorkdir)
	envString(lookup, "ADAPTER_WORKDIR", &s.Workdir)
	envString(lookup, "ASM_S3_ENDPOINT", &s.S3.Endpoint)
	envString(lookup, "ASM_S3_ACCESS_KEY", &s.S3.AccessKey)
	envString(lookup, "ASM_S3_SECRET_KEY", &s.S3.SecretKey)
	envString(lookup, "ASM_S3_REGION", &s.S3.Region)
	envBool(lookup, "ASM_S3_USE_SSL", &s.S3.UseSSL)
}

// Validate checks the minimum contract a run needs.
func (s Settings) Validate() error {
	if s.InputsURL == "" {
		return errors.New("missing INPUTS_URL")
	}
	return nil
}

// FillLocalIDs assigns fresh UUIDs for run and batch when the launcher did
// not provide them, so local runs still produce attributable streams.
func (s *Settings) FillLocalIDs() {
	if s.RunID == "" {
		s.RunID = uuid.NewString()
	}
	if s.BatchID == "" {
		s.BatchID = uuid.NewString()
	}
}

// HeartbeatInterval returns the effective interval, never below 5s.
func (s Settings) HeartbeatInterval() time.Duration {
	secs := s.HeartbeatSeconds
	if secs < 5 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

// SignalTimeout bounds a single signal delivery attempt.
func (s Settings) SignalTimeout() time.Duration {
	secs := s.SignalTimeoutSeconds
	if secs <= 0 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

func overlayString(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envString(lookup func(string) (string, bool), name string, dst *string) {
	if v, ok := lookup(name); ok && v != "" {
		*dst = v
	}
}

func envInt(lookup func(string) (string, bool), name string, dst *int) {
	v, ok := lookup(name)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func envBool(lookup func(string) (string, bool), name string, dst *bool) {
	v, ok := lookup(name)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}
