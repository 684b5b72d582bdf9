package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	t.Parallel()
	st := model.DefaultSettings()
	require.Equal(t, 30, st.HeartbeatSeconds)
	require.Equal(t, 2, st.FetchRetries)
	require.Equal(t, 10, st.SignalTimeoutSeconds)
	require.Zero(t, st.RunTimeoutSeconds)
}

func TestSettings_MergeFile(t *testing.T) {
	t.Parallel()
	yml := `
inputs_url: file:///tmp/inputs.txt
signal_url: http://localhost:9999/signal
heartbeat_seconds: 7
preserve_workdir: true
s3:
  endpoint: minio.local:9000
  access_key: test
  secret_key: secret
`
	st := model.DefaultSettings()
	require.NoError(t, st.MergeFile(strings.NewReader(yml)))
	require.Equal(t, "file:///tmp/inputs.txt", st.InputsURL)
	require.Equal(t, "http://localhost:9999/signal", st.SignalURL)
	require.Equal(t, 7, st.HeartbeatSeconds)
	require.True(t, st.PreserveWorkdir)
	require.Equal(t, "minio.local:9000", st.S3.Endpoint)
	// untouched fields keep their defaults
	require.Equal(t, 2, st.FetchRetries)
}

func TestSettings_MergeFile_Invalid(t *testing.T) {
	t.Parallel()
	st := model.DefaultSettings()
	require.Error(t, st.MergeFile(strings.NewReader("inputs_url: [nope")))
}

func TestSettings_MergeEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"INPUTS_URL":               "https://example.com/inputs",
		"RESOURCES_MANIFEST_URL":   "https://example.com/manifest",
		"OUTPUT_URL":               "s3://bucket/events.jsonl.gz",
		"SIGNAL_URL":               "https://example.com/signal",
		"TENANT_ID":                "t-1",
		"RUN_ID":                   "r-1",
		"BATCH_ID":                 "b-1",
		"OCS_PREFIX":               "runs/r-1/batches/b-1/",
		"TOOL_IMAGE_DIGEST":        "sha256:abc",
		"HEARTBEAT_SECONDS":        "15",
		"ADAPTER_PRESERVE_WORKDIR": "true",
	}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	st := model.DefaultSettings()
	st.MergeEnv(lookup)
	require.Equal(t, "https://example.com/inputs", st.InputsURL)
	require.Equal(t, "https://example.com/manifest", st.ManifestURL)
	require.Equal(t, "s3://bucket/events.jsonl.gz", st.OutputURL)
	require.Equal(t, "t-1", st.TenantID)
	require.Equal(t, "runs/r-1/batches/b-1/", st.OCSPrefix)
	require.Equal(t, "sha256:abc", st.ToolImageDigest)
	require.Equal(t, 15, st.HeartbeatSeconds)
	require.True(t, st.PreserveWorkdir)
}

func TestSettings_EnvOverridesFile(t *testing.T) {
	t.Parallel()
	st := model.DefaultSettings()
	require.NoError(t, st.MergeFile(strings.NewReader("inputs_url: file:///from-file\nheartbeat_seconds: 7")))
	st.MergeEnv(func(name string) (string, bool) {
		if name == "INPUTS_URL" {
			return "file:///from-env", true
		}
		return "", false
	})
	require.Equal(t, "file:///from-env", st.InputsURL)
	require.Equal(t, 7, st.HeartbeatSeconds)
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()
	st := model.DefaultSettings()
	require.Error(t, st.Validate())
	st.InputsURL = "file:///tmp/inputs.txt"
	require.NoError(t, st.Validate())
}

func TestSettings_FillLocalIDs(t *testing.T) {
	t.Parallel()
	st := model.DefaultSettings()
	st.RunID = "keep-me"
	st.FillLocalIDs()
	require.Equal(t, "keep-me", st.RunID)
	require.NotEmpty(t, st.BatchID)
}

func TestSettings_HeartbeatInterval(t *testing.T) {
	t.Parallel()
	st := model.DefaultSettings()
	require.Equal(t, 30*time.Second, st.HeartbeatInterval())

	st.HeartbeatSeconds = 1
	require.Equal(t, 5*time.Second, st.HeartbeatInterval(), "interval never drops under the floor")

	st.HeartbeatSeconds = 0
	require.Equal(t, 5*time.Second, st.HeartbeatInterval())
}
