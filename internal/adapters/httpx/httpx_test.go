package httpx_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/adapters/httpx"
	"github.com/chudamax/asm4-adapter-runtime/internal/events"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/signalx"
)

type sink struct {
	mx     sync.Mutex
	events []events.HTTPResponse
}

func (s *sink) emit(eventType string, payload any) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if r, ok := payload.(events.HTTPResponse); ok && eventType == "http.response" {
		s.events = append(s.events, r)
	}
}

type nullPoster struct{}

func (nullPoster) PostJSON(ctx context.Context, url string, payload any) error { return nil }

func testReporter() *signalx.Reporter {
	return signalx.NewReporter(nullPoster{}, "", &model.BatchConfig{}, "", time.Hour, time.Second)
}

func TestAdapter_Contract(t *testing.T) {
	t.Parallel()
	require.NoError(t, adapter.Validate(httpx.New()))
}

func TestBuildCommand(t *testing.T) {
	t.Parallel()
	workdir := t.TempDir()
	cfg := &model.BatchConfig{Parameters: map[string]any{
		"threads": 8,
		"timeout": 10,
		"rate":    150,
	}}

	ad := &httpx.Adapter{Binary: "/opt/httpx"}
	argv, err := ad.BuildCommand(t.Context(), []string{"a.example.com", "b.example.com"}, cfg, workdir)
	require.NoError(t, err)
	require.Equal(t, "/opt/httpx", argv[0])
	require.Contains(t, argv, "-json")
	require.Contains(t, argv, "-silent")

	data, err := os.ReadFile(filepath.Join(workdir, "targets.txt"))
	require.NoError(t, err)
	require.Equal(t, "a.example.com\nb.example.com\n", string(data))

	joined := make(map[string]string)
	for i := 0; i+1 < len(argv); i++ {
		joined[argv[i]] = argv[i+1]
	}
	require.Equal(t, "8", joined["-threads"])
	require.Equal(t, "10", joined["-timeout"])
	require.Equal(t, "150", joined["-rate"])
	require.Equal(t, filepath.Join(workdir, "targets.txt"), joined["-l"])
}

func TestBuildCommand_NoTargets(t *testing.T) {
	t.Parallel()
	argv, err := httpx.New().BuildCommand(t.Context(), nil, &model.BatchConfig{}, t.TempDir())
	require.NoError(t, err)
	require.Nil(t, argv, "nothing to probe, nothing to run")
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	ad := httpx.New()
	s := &sink{}
	hb := testReporter()

	line := `{"input":"example.com","url":"https://example.com","status_code":200,"title":"Example","webserver":"ECS"}`
	require.NoError(t, ad.ParseLine(line, s.emit, hb))
	require.Len(t, s.events, 1)
	require.Equal(t, "https://example.com", s.events[0].URL)
	require.Equal(t, 200, s.events[0].StatusCode)
	require.Equal(t, "https", s.events[0].Scheme)

	t.Run("noise skipped", func(t *testing.T) {
		require.NoError(t, ad.ParseLine("", s.emit, hb))
		require.NoError(t, ad.ParseLine("httpx version 1.6.1", s.emit, hb))
		require.NoError(t, ad.ParseLine(`{"no_url_at_all":true}`, s.emit, hb))
		require.Len(t, s.events, 1)
	})
}
