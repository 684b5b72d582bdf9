package masscan_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/adapters/masscan"
	"github.com/chudamax/asm4-adapter-runtime/internal/events"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
)

type sink struct {
	mx       sync.Mutex
	services []events.NetworkService
}

func (s *sink) emit(eventType string, payload any) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if svc, ok := payload.(events.NetworkService); ok && eventType == "network.service" {
		s.services = append(s.services, svc)
	}
}

func TestAdapter_Contract(t *testing.T) {
	t.Parallel()
	ad := masscan.New()
	require.NoError(t, adapter.Validate(ad))
	var _ adapter.FileDrainer = ad
}

func TestBuildCommand(t *testing.T) {
	t.Parallel()
	workdir := t.TempDir()
	cfg := &model.BatchConfig{Parameters: map[string]any{
		"ports":   "80,443,8080",
		"rate":    "2500",
		"banners": true,
	}}

	argv, err := masscan.New().BuildCommand(t.Context(), []string{"10.0.0.0/24"}, cfg, workdir)
	require.NoError(t, err)
	require.Equal(t, "masscan", argv[0])
	require.Contains(t, argv, "--open")
	require.Contains(t, argv, "--banners")

	joined := make(map[string]string)
	for i := 0; i+1 < len(argv); i++ {
		joined[argv[i]] = argv[i+1]
	}
	require.Equal(t, "80,443,8080", joined["-p"])
	require.Equal(t, "2500", joined["--rate"])
	require.Equal(t, filepath.Join(workdir, "masscan.jsonl"), joined["-oJ"])

	data, err := os.ReadFile(filepath.Join(workdir, "targets.txt"))
	require.NoError(t, err)
	require.Equal(t, "10.0.0.0/24\n", string(data))
}

func TestBuildCommand_Defaults(t *testing.T) {
	t.Parallel()
	argv, err := masscan.New().BuildCommand(t.Context(), []string{"10.0.0.1"}, &model.BatchConfig{}, t.TempDir())
	require.NoError(t, err)

	joined := make(map[string]string)
	for i := 0; i+1 < len(argv); i++ {
		joined[argv[i]] = argv[i+1]
	}
	require.Equal(t, "1-1024", joined["-p"])
	require.Equal(t, "1000", joined["--rate"])
	require.NotContains(t, argv, "--banners")
}

func TestBuildCommand_NoTargets(t *testing.T) {
	t.Parallel()
	argv, err := masscan.New().BuildCommand(t.Context(), nil, &model.BatchConfig{}, t.TempDir())
	require.NoError(t, err)
	require.Nil(t, argv)
}

func TestDrainFiles_JSONArray(t *testing.T) {
	t.Parallel()
	workdir := t.TempDir()
	results := `[
{"ip": "10.0.0.5", "timestamp": "1700000000", "ports": [{"port": 80, "proto": "tcp", "status": "open"}]},
{"ip": "10.0.0.6", "timestamp": "1700000001", "ports": [{"port": 443, "proto": "tcp", "status": "open", "service": {"name": "ssl", "banner": "TLS1.3"}}]}
]`
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "masscan.jsonl"), []byte(results), 0o644))

	s := &sink{}
	require.NoError(t, masscan.New().DrainFiles(workdir, s.emit))
	require.Len(t, s.services, 2)
	require.Equal(t, events.NetworkService{IP: "10.0.0.5", Port: 80, Protocol: "tcp"}, s.services[0])
	require.Equal(t, "ssl: TLS1.3", s.services[1].Banner)
}

func TestDrainFiles_TruncatedOutput(t *testing.T) {
	t.Parallel()
	// A killed masscan leaves a dangling array: no closing bracket, comma
	// terminated lines.
	workdir := t.TempDir()
	results := `[
{"ip": "10.0.0.5", "ports": [{"port": 22, "proto": "tcp"}]},
{"ip": "10.0.0.6", "ports": [{"port": 25, "proto": "tcp"}]},`
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "masscan.jsonl"), []byte(results), 0o644))

	s := &sink{}
	require.NoError(t, masscan.New().DrainFiles(workdir, s.emit))
	require.Len(t, s.services, 2)
	require.Equal(t, 22, s.services[0].Port)
	require.Equal(t, 25, s.services[1].Port)
}

func TestDrainFiles_SkipsClosedPorts(t *testing.T) {
	t.Parallel()
	workdir := t.TempDir()
	results := `[{"ip": "10.0.0.5", "ports": [{"port": 80, "proto": "tcp", "status": "closed"}, {"port": 0, "proto": "tcp"}]}]`
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "masscan.jsonl"), []byte(results), 0o644))

	s := &sink{}
	require.NoError(t, masscan.New().DrainFiles(workdir, s.emit))
	require.Empty(t, s.services)
}

func TestDrainFiles_NoFile(t *testing.T) {
	t.Parallel()
	s := &sink{}
	require.NoError(t, masscan.New().DrainFiles(t.TempDir(), s.emit), "tool may die before writing anything")
	require.Empty(t, s.services)
}
