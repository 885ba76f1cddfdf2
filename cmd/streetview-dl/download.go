package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"streetview-dl/internal/cache"
	"streetview-dl/internal/client"
	"streetview-dl/internal/descriptor"
	"streetview-dl/internal/export"
	"streetview-dl/internal/fetch"
	"streetview-dl/internal/filter"
	"streetview-dl/internal/geometry"
	"streetview-dl/internal/grid"
	"streetview-dl/internal/telemetry"
	"streetview-dl/pkg/gpano"
)

// runOptions is everything the download pipeline needs, validated up front
// so a typo in any flag costs zero network traffic.
type runOptions struct {
	svc     *client.Client
	cache   *cache.TileCache
	tracker *telemetry.Tracker

	tier       grid.Tier
	format     export.Format
	framing    geometry.Framing
	filterSpec filter.Spec

	output      string
	outputDir   string
	jpegQuality int
	maxWidth    int
	metadata    bool
	metaOnly    bool
	noXMP       bool
	strict      bool
	timeout     time.Duration
	workers     int
	retries     int
}

// optionsFromFlags parses and validates every flag before any network work.
func optionsFromFlags() (*runOptions, error) {
	tier, err := grid.ParseTier(flagQuality)
	if err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(flagFormat)
	if err != nil {
		return nil, err
	}
	clip, err := geometry.ParseClip(flagClip)
	if err != nil {
		return nil, err
	}
	framing := geometry.Framing{
		FOV:            flagFOV,
		Clip:           clip,
		BottomFraction: flagCropBottom,
	}
	if err := framing.Validate(); err != nil {
		return nil, err
	}
	preset, err := filter.ParsePreset(flagFilter)
	if err != nil {
		return nil, err
	}
	spec := filter.Spec{
		Preset:     preset,
		Brightness: flagBrightness,
		Contrast:   flagContrast,
		Saturation: flagSaturation,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if flagJPEGQual < 0 || flagJPEGQual > 100 {
		return nil, fmt.Errorf("jpeg quality must be 1-100, got %d", flagJPEGQual)
	}

	return &runOptions{
		tier:        tier,
		format:      format,
		framing:     framing,
		filterSpec:  spec,
		output:      flagOutput,
		outputDir:   flagOutputDir,
		jpegQuality: flagJPEGQual,
		maxWidth:    flagMaxWidth,
		metadata:    flagMetadata,
		metaOnly:    flagMetaOnly,
		noXMP:       flagNoXMP,
		strict:      flagStrict,
		timeout:     flagTimeout,
		workers:     flagWorkers,
		retries:     flagRetries,
	}, nil
}

// resolveTarget turns a Maps URL or bare panorama ID into a view descriptor.
func resolveTarget(target string, tier grid.Tier) (descriptor.ViewDescriptor, error) {
	if descriptor.LooksLikeMapsURL(target) {
		return descriptor.FromURL(target, tier)
	}
	return descriptor.ViewDescriptor{PanoramaID: target, Tier: tier}, nil
}

// download runs the whole pipeline for one panorama and returns the written
// image path ("" for --metadata-only).
func download(ctx context.Context, opts *runOptions, target string) (string, error) {
	desc, err := resolveTarget(target, opts.tier)
	if err != nil {
		return "", err
	}

	svc := opts.svc

	meta, err := svc.Metadata(ctx, desc.PanoramaID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch metadata for %s: %w", desc.PanoramaID, err)
	}
	if desc.HasCamera {
		yaw, pitch := desc.HeadingDeg, desc.PitchDeg
		meta.URLYaw = &yaw
		meta.URLPitch = &pitch
	}

	base := outputBase(opts, desc)
	if opts.metadata || opts.metaOnly {
		sidecar, err := meta.Sidecar()
		if err != nil {
			return "", err
		}
		sidecarPath := base + ".json"
		if err := os.WriteFile(sidecarPath, sidecar, 0o644); err != nil {
			return "", fmt.Errorf("failed to write metadata sidecar: %w", err)
		}
		printInfo("Metadata written to %s", sidecarPath)
		if opts.metaOnly {
			return "", nil
		}
	}

	g := grid.Plan(desc.Tier)
	opts.tracker.Track("download_started", map[string]interface{}{
		"tier":  string(desc.Tier),
		"tiles": g.TileCount(),
	})
	start := time.Now()

	printInfo("Panorama %s: %dx%d px, %d tiles (%s quality)",
		desc.PanoramaID, g.WidthPx(), g.HeightPx(), g.TileCount(), desc.Tier)

	pano, err := fetch.FetchAll(ctx, g, svc.Requester(desc.PanoramaID, g), fetch.Config{
		Workers:    opts.workers,
		Retries:    opts.retries,
		Jitter:     true,
		Strict:     opts.strict,
		Cache:      opts.cache,
		OnProgress: progressPrinter(),
		Logger:     logger,
	})
	if err != nil {
		return "", err
	}
	if failed := pano.Failed(); len(failed) > 0 {
		printWarn("%d tiles unavailable, rendered as gray placeholders", len(failed))
	}

	img, window, err := frame(pano.Img, desc, opts.framing)
	if err != nil {
		return "", err
	}

	img, err = filter.Apply(img, opts.filterSpec)
	if err != nil {
		return "", err
	}

	panoWidth := pano.Img.Bounds().Dx()
	final := export.Resize(img, opts.maxWidth)

	path := base + "." + opts.format.Extension()
	if err := writeImage(path, final, opts, desc, window, panoWidth); err != nil {
		return "", err
	}

	opts.tracker.Track("download_completed", map[string]interface{}{
		"tier":        string(desc.Tier),
		"duration_ms": time.Since(start).Milliseconds(),
		"failed":      len(pano.Failed()),
	})
	return path, nil
}

// frame applies angular and bottom cropping. URLs without a camera pose
// cannot support angular cropping; those fall back to bottom-crop only.
func frame(src *image.RGBA, desc descriptor.ViewDescriptor, f geometry.Framing) (*image.RGBA, geometry.CropWindow, error) {
	if !desc.HasCamera && (f.FOV > 0 || f.Clip != geometry.ClipNone) {
		printWarn("Source has no viewing direction; skipping angular crop")
		f.FOV = 0
		f.Clip = geometry.ClipNone
	}

	bounds := src.Bounds()
	window, advisories, err := geometry.ResolveWindow(desc.HeadingDeg, f, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, geometry.CropWindow{}, err
	}
	for _, advisory := range advisories {
		printWarn("%s", advisory)
		logger.Warn("crop advisory", zap.String("detail", advisory))
	}
	if window.ColStart == 0 && window.ColEnd == bounds.Dx() && !window.Wraps && window.RowEnd == bounds.Dy() {
		return src, window, nil
	}
	return geometry.Apply(src, window), window, nil
}

// writeImage encodes the final image, embedding GPano XMP in JPEG output so
// viewers treat it as a panorama.
func writeImage(path string, img image.Image, opts *runOptions, desc descriptor.ViewDescriptor, window geometry.CropWindow, panoWidth int) error {
	var buf bytes.Buffer
	if err := export.Encode(&buf, img, opts.format, opts.jpegQuality); err != nil {
		return err
	}
	data := buf.Bytes()

	if opts.format == export.FormatJPEG && !opts.noXMP {
		embedded, err := gpano.Embed(data, panoInfo(img, desc, window, panoWidth))
		if err != nil {
			return fmt.Errorf("failed to embed panorama metadata: %w", err)
		}
		data = embedded
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// panoInfo maps the crop window onto the full sphere, scaled to the final
// output resolution.
func panoInfo(img image.Image, desc descriptor.ViewDescriptor, window geometry.CropWindow, panoWidth int) gpano.PanoInfo {
	outW := img.Bounds().Dx()
	outH := img.Bounds().Dy()

	cropW := window.OutWidth(panoWidth)
	scale := 1.0
	if cropW > 0 {
		scale = float64(outW) / float64(cropW)
	}
	fullW := int(math.Round(float64(panoWidth) * scale))
	return gpano.PanoInfo{
		FullWidth:     fullW,
		FullHeight:    fullW / 2,
		CroppedWidth:  outW,
		CroppedHeight: outH,
		CroppedLeft:   int(math.Round(float64(window.ColStart) * scale)),
		CroppedTop:    0,
		HeadingDeg:    desc.HeadingDeg,
	}
}

// progressPrinter returns an OnProgress callback that rewrites one status
// line on stderr.
func progressPrinter() func(done, total int) {
	return func(done, total int) {
		fmt.Fprintf(os.Stderr, "\r%s", dimStyle.Render(fmt.Sprintf("Tiles %d/%d", done, total)))
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// outputBase builds the output path without extension. Explicit --output
// wins; otherwise the name encodes panorama ID, tier, crop span and filter.
func outputBase(opts *runOptions, desc descriptor.ViewDescriptor) string {
	if opts.output != "" {
		ext := filepath.Ext(opts.output)
		return opts.output[:len(opts.output)-len(ext)]
	}

	name := "streetview_" + desc.PanoramaID
	if desc.Tier != grid.TierMedium {
		name += "_" + string(desc.Tier)
	}
	if span := effectiveSpan(opts.framing, desc.HasCamera); span > 0 && span < 360 {
		name += fmt.Sprintf("_%.0fdeg", span)
	}
	if opts.filterSpec.Preset != filter.PresetNone {
		name += "_" + string(opts.filterSpec.Preset)
	}
	return filepath.Join(opts.outputDir, name)
}

// effectiveSpan reports the angular width the output will cover, in
// degrees. Zero means the full sphere is kept untouched.
func effectiveSpan(f geometry.Framing, hasCamera bool) float64 {
	if !hasCamera {
		return 0
	}
	if f.Clip != geometry.ClipNone {
		if f.FOV >= 180 {
			return math.Min(f.FOV, 360)
		}
		return 180
	}
	return f.FOV
}
