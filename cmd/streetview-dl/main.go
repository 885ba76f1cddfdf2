package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"streetview-dl/internal/auth"
	"streetview-dl/internal/batch"
	"streetview-dl/internal/cache"
	"streetview-dl/internal/client"
	"streetview-dl/internal/telemetry"
)

const version = "1.2.0"

var (
	flagAPIKey     string
	flagOutput     string
	flagOutputDir  string
	flagQuality    string
	flagFormat     string
	flagJPEGQual   int
	flagMaxWidth   int
	flagFOV        float64
	flagClip       string
	flagCropBottom float64
	flagFilter     string
	flagBrightness float64
	flagContrast   float64
	flagSaturation float64
	flagMetadata   bool
	flagMetaOnly   bool
	flagBatch      string
	flagNoXMP      bool
	flagStrict     bool
	flagTimeout    time.Duration
	flagWorkers    int
	flagRetries    int
	flagConfigure  bool
	flagVerbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "streetview-dl [url-or-pano-id]",
	Short: "Download full-resolution Street View panoramas",
	Long: `streetview-dl downloads Street View panoramas as single equirectangular
images via the Google Map Tiles API.

Pass a Google Maps URL (the kind the browser address bar shows while viewing
a panorama) or a bare panorama ID. Tiles are fetched concurrently, stitched,
optionally cropped to the viewing direction, filtered, and written out as a
jpg, png or webp.

A Google Maps API key with the Map Tiles API enabled is required. Supply it
with --api-key, the GOOGLE_MAPS_API_KEY environment variable, or run
streetview-dl --configure to store one.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if flagVerbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagAPIKey, "api-key", "", "Google Maps API key (overrides env and config file)")
	flags.StringVarP(&flagOutput, "output", "o", "", "output file path (default: generated from panorama ID)")
	flags.StringVar(&flagOutputDir, "output-dir", ".", "directory for generated output files")
	flags.StringVar(&flagQuality, "quality", "medium", "tile resolution tier: low, medium or high")
	flags.StringVar(&flagFormat, "format", "jpg", "output format: jpg, png or webp")
	flags.IntVar(&flagJPEGQual, "jpeg-quality", 0, "JPEG quality 1-100 (default 92)")
	flags.IntVar(&flagMaxWidth, "max-width", 0, "downscale so width does not exceed this many pixels")
	flags.Float64Var(&flagFOV, "fov", 0, "horizontal field of view in degrees (60-360), centered on the URL heading")
	flags.StringVar(&flagClip, "clip", "", "keep one hemisphere: left or right")
	flags.Float64Var(&flagCropBottom, "crop-bottom", 0, "keep only this fraction of image height from the top (0-1)")
	flags.StringVar(&flagFilter, "filter", "none", "color preset: none, bw, sepia or vintage")
	flags.Float64Var(&flagBrightness, "brightness", 1, "brightness factor (0.1-3.0)")
	flags.Float64Var(&flagContrast, "contrast", 1, "contrast factor (0.1-3.0)")
	flags.Float64Var(&flagSaturation, "saturation", 1, "saturation factor (0-3.0)")
	flags.BoolVar(&flagMetadata, "metadata", false, "also write a JSON metadata sidecar")
	flags.BoolVar(&flagMetaOnly, "metadata-only", false, "write the metadata sidecar and skip the image")
	flags.StringVar(&flagBatch, "batch", "", "file with one URL or panorama ID per line")
	flags.BoolVar(&flagNoXMP, "no-xmp", false, "skip embedding GPano XMP metadata in JPEG output")
	flags.BoolVar(&flagStrict, "strict", false, "fail instead of writing placeholder blocks for missing tiles")
	flags.DurationVar(&flagTimeout, "timeout", 30*time.Second, "per-request HTTP timeout")
	flags.IntVar(&flagWorkers, "workers", 0, "concurrent tile downloads (default: auto)")
	flags.IntVar(&flagRetries, "retries", 2, "retry budget per tile for transient failures")
	flags.BoolVar(&flagConfigure, "configure", false, "interactively store an API key and exit")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	if flagConfigure {
		return runConfigure(cmd)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := optionsFromFlags()
	if err != nil {
		return err
	}

	key, err := resolveOrPromptKey(cmd)
	if err != nil {
		return err
	}
	opts.svc = client.New(key, opts.timeout)

	tileCache, err := cache.New(cache.DefaultEntries)
	if err != nil {
		return err
	}
	opts.cache = tileCache

	tracker := telemetry.New(auth.TelemetrySettings())
	defer tracker.Close()
	opts.tracker = tracker

	if flagBatch != "" {
		return runBatch(ctx, opts, flagBatch)
	}

	if len(args) != 1 {
		return errors.New("expected exactly one Maps URL or panorama ID (or --batch)")
	}

	path, err := download(ctx, opts, args[0])
	if err != nil {
		return err
	}
	if path != "" {
		printSuccess("Saved %s", path)
	}
	return nil
}

// runBatch downloads every entry in the batch file, continuing past
// individual failures.
func runBatch(ctx context.Context, opts *runOptions, batchPath string) error {
	entries, err := batch.Load(batchPath)
	if err != nil {
		return err
	}
	printInfo("Batch: %d entries from %s", len(entries), batchPath)

	runner := batch.NewRunner(func(ctx context.Context, entry *batch.Entry) (string, error) {
		return download(ctx, opts, entry.URL)
	})
	runner.OnStart = func(entry *batch.Entry, index, total int) {
		printInfo("[%d/%d] %s", index+1, total, entry.URL)
	}
	runner.OnDone = func(entry *batch.Entry, index, total int) {
		switch entry.Status {
		case batch.StatusCompleted:
			printSuccess("[%d/%d] saved %s (%s)", index+1, total, entry.OutputPath, entry.Elapsed.Round(time.Millisecond))
		case batch.StatusFailed:
			printError("[%d/%d] failed: %v", index+1, total, entry.Err)
		}
	}

	summary, runErr := runner.Run(ctx, entries)
	fmt.Println()
	printInfo("Batch done: %d completed, %d failed in %s",
		summary.Completed, summary.Failed, summary.Elapsed.Round(time.Second))

	if runErr != nil {
		return runErr
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d batch entries failed", summary.Failed, len(entries))
	}
	return nil
}

// resolveOrPromptKey finds the API key, asking interactively as a last
// resort.
func resolveOrPromptKey(cmd *cobra.Command) (string, error) {
	key, err := auth.ResolveKey(flagAPIKey)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, auth.ErrNoAPIKey) {
		return "", err
	}

	printWarn("No Google Maps API key found.")
	fmt.Println(dimStyle.Render("Get one at https://console.cloud.google.com/ with the Map Tiles API enabled."))
	key, err = promptLine(cmd, "API key: ")
	if err != nil {
		return "", err
	}
	if !auth.ValidateKey(key) {
		return "", errors.New("that does not look like a Google API key (expected AIza prefix)")
	}

	save, err := promptLine(cmd, "Save this key for future runs? [y/N] ")
	if err == nil && (strings.EqualFold(save, "y") || strings.EqualFold(save, "yes")) {
		if saveErr := auth.SaveKey(key); saveErr != nil {
			printWarn("Could not save key: %v", saveErr)
		} else if path, pathErr := auth.ConfigPath(); pathErr == nil {
			printInfo("Key saved to %s", path)
		}
	}
	return key, nil
}

// runConfigure is the --configure flow: show the stored key, replace it.
func runConfigure(cmd *cobra.Command) error {
	if stored, err := auth.StoredKey(); err == nil && stored != "" {
		printInfo("Current key: %s", auth.Redact(stored))
	}

	key, err := promptLine(cmd, "New API key (blank to keep current): ")
	if err != nil {
		return err
	}
	if key == "" {
		printInfo("Nothing changed.")
		return nil
	}
	if !auth.ValidateKey(key) {
		return errors.New("that does not look like a Google API key (expected AIza prefix)")
	}
	if err := auth.SaveKey(key); err != nil {
		return err
	}
	path, err := auth.ConfigPath()
	if err != nil {
		return err
	}
	printSuccess("Key saved to %s", path)
	return nil
}

var stdinReader *bufio.Reader

// promptLine reads one line of interactive input. A single shared reader
// keeps look-ahead bytes from one prompt available to the next.
func promptLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Print(prompt)
	if stdinReader == nil {
		stdinReader = bufio.NewReader(cmd.InOrStdin())
	}
	line, err := stdinReader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("Error: %v", err)
		os.Exit(1)
	}
}
