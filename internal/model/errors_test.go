package model_test

import (
	"errors"
	"testing"

	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")

	var loadErr *model.LoadError
	err := error(&model.LoadError{Source: "inputs", Err: cause})
	require.ErrorAs(t, err, &loadErr)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "inputs")

	var execErr *model.ExecutionError
	err = error(&model.ExecutionError{Tool: "masscan", ExitCode: 137, Err: cause})
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, 137, execErr.ExitCode)

	var timeoutErr *model.TimeoutError
	err = error(&model.TimeoutError{})
	require.ErrorAs(t, err, &timeoutErr)
}

func TestBatchConfig_Params(t *testing.T) {
	t.Parallel()
	cfg := &model.BatchConfig{Parameters: map[string]any{
		"ports":   "80,443",
		"rate":    float64(2500),
		"threads": "8",
		"banners": true,
		"flags":   []any{"-v", 42},
	}}

	t.Run("string", func(t *testing.T) {
		require.Equal(t, "80,443", cfg.StringParam("ports", "1-1024"))
		require.Equal(t, "1-1024", cfg.StringParam("missing", "1-1024"))
	})
	t.Run("int", func(t *testing.T) {
		require.Equal(t, 2500, cfg.IntParam("rate", 1000))
		require.Equal(t, 8, cfg.IntParam("threads", 1), "numeric strings coerce")
		require.Equal(t, 1000, cfg.IntParam("missing", 1000))
	})
	t.Run("bool", func(t *testing.T) {
		require.True(t, cfg.BoolParam("banners", false))
		require.False(t, cfg.BoolParam("missing", false))
	})
	t.Run("strings", func(t *testing.T) {
		require.Equal(t, []string{"-v", "42"}, cfg.StringsParam("flags"))
		require.Nil(t, cfg.StringsParam("missing"))
	})
}
