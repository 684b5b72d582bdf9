package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/adapters"
	"github.com/chudamax/asm4-adapter-runtime/internal/log"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/runctl"
)

var (
	settings model.Settings
	registry = adapter.NewRegistry()

	flagConfigFilePath string
	flagVerbose        bool
	flagAdapter        string
	flagInputsURL      string
	flagManifestURL    string
	flagOutputURL      string
	flagSignalURL      string
	flagWorkdir        string
	flagPreserve       bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML settings file, merged below environment variables")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringVar(&flagAdapter, "adapter", "", "adapter to run (see: asm-adapter adapters)")
	runCmd.Flags().StringVar(&flagInputsURL, "inputs-url", "", "targets list location, overrides INPUTS_URL")
	runCmd.Flags().StringVar(&flagManifestURL, "manifest-url", "", "resources manifest location, overrides RESOURCES_MANIFEST_URL")
	runCmd.Flags().StringVar(&flagOutputURL, "output-url", "", "event stream destination, overrides OUTPUT_URL")
	runCmd.Flags().StringVar(&flagSignalURL, "signal-url", "", "signal endpoint, overrides SIGNAL_URL")
	runCmd.Flags().StringVar(&flagWorkdir, "workdir", "", "pin the scratch directory instead of a temp dir")
	runCmd.Flags().BoolVar(&flagPreserve, "preserve-workdir", false, "keep the temp workdir after the run")
	_ = runCmd.MarkFlagRequired("adapter")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initRuntime

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(adaptersCmd)
	rootCmd.AddCommand(versionCmd)

	adapters.RegisterAll(registry)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("asm-adapter failed", "err", err)
		os.Exit(model.ExitFatal)
	}
}

var rootCmd = &cobra.Command{
	Use:          "asm-adapter",
	Short:        "Batch runner turning scanning tools into event streams",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes one batch for the selected adapter",
	RunE:  doRun,
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "adapters lists the built-in adapters and what they produce",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range registry.Names() {
			ad, _ := registry.Lookup(name)
			meta := ad.Metadata()
			fmt.Printf("%-16s %-8s input=%-8s produces=%s\n",
				meta.Name, meta.Version, meta.InputKind, strings.Join(meta.Produces, ","))
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("asm-adapter: version info not available")
			return
		}
		fmt.Printf("asm-adapter: %s\n", info.Main.Version)
		fmt.Printf("go:          %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:      %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:        %s\n", s.Value)
			}
		}
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("asm",
		slog.String("cmd", "run"),
		slog.String("adapter", flagAdapter),
		slog.Int("pid", os.Getpid()),
	))

	ctl, err := runctl.New(settings, registry)
	if err != nil {
		return err
	}
	res := ctl.Execute(ctx, flagAdapter)
	if res.Err != nil && res.ExitCode != model.ExitOK {
		slog.ErrorContext(ctx, "run failed", "status", res.Status, "err", res.Err)
	}
	os.Exit(res.ExitCode)
	return nil
}

// initRuntime resolves settings with precedence flags > env > file >
// defaults, then sets up logging.
func initRuntime(cmd *cobra.Command, _ []string) error {
	settings = model.DefaultSettings()

	if flagConfigFilePath != "" {
		f, err := os.Open(flagConfigFilePath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		if err := settings.MergeFile(f); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	settings.MergeEnv(os.LookupEnv)

	overlay(&settings.InputsURL, flagInputsURL)
	overlay(&settings.ManifestURL, flagManifestURL)
	overlay(&settings.OutputURL, flagOutputURL)
	overlay(&settings.SignalURL, flagSignalURL)
	overlay(&settings.Workdir, flagWorkdir)
	settings.PreserveWorkdir = settings.PreserveWorkdir || flagPreserve
	settings.Verbose = settings.Verbose || flagVerbose

	slog.SetDefault(log.New(settings.Verbose))
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
