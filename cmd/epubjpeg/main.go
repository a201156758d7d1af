// epubjpeg converts the images inside ePub files to baseline JPEG so that
// e-readers with minimal JPEG decoders can display them.
//
// Each book is rewritten in place unless --output names a destination.
// With --dry-run nothing is written; a per-book report is printed instead.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/crosspoint-reader/epubjpeg"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		output     string
		dryRun     bool
		flags      = defaultConfig()
	)

	flagSet := pflag.NewFlagSet("epubjpeg", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "YAML config file (default: $"+configEnv+")")
	flagSet.StringVarP(&output, "output", "o", "", "write the converted book here instead of overwriting the input")
	flagSet.BoolVarP(&dryRun, "dry-run", "n", false, "report what would change without writing")
	flagSet.IntVarP(&flags.Quality, "quality", "q", flags.Quality, "JPEG quality (1-100)")
	flagSet.IntVar(&flags.Workers, "workers", flags.Workers, "images transcoded in parallel (0: one per CPU)")
	flagSet.StringVar(&flags.Strategy, "strategy", flags.Strategy, "reference rewrite strategy: substitute or attribute")
	flagSet.IntVar(&flags.Level, "level", flags.Level, "deflate level for compressed entries (-2..9)")
	flagSet.IntVar(&flags.MaxDimension, "max-dimension", flags.MaxDimension, "downscale images larger than this many pixels (0: off)")
	flagSet.StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "log format: text or json")
	flagSet.BoolVarP(&flags.Verbose, "verbose", "v", flags.Verbose, "log per-entry diagnostics")
	flagSet.Usage = func() { printHelp(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := resolveConfig(configPath, flags, flagSet)
	if err != nil {
		return err
	}

	books := flagSet.Args()
	if len(books) == 0 {
		printHelp(stderr, flagSet)
		return fmt.Errorf("no input files")
	}
	if output != "" && len(books) > 1 {
		return fmt.Errorf("--output requires exactly one input, got %d", len(books))
	}

	logger := newLogger(stderr, cfg)

	if dryRun {
		for _, book := range books {
			rep, err := epubjpeg.InspectFile(book)
			if err != nil {
				return err
			}
			printReport(stdout, book, rep)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := cfg.options()
	opts.Logger = logger
	opts.Notify = func(line string) { fmt.Fprintln(stdout, line) }

	total := 0
	for _, book := range books {
		res, err := epubjpeg.ConvertFile(ctx, book, output, opts)
		if err != nil {
			return fmt.Errorf("converting %s: %w", book, err)
		}
		for _, name := range res.Skipped {
			logger.Warn("image left unchanged", "book", book, "entry", name)
		}
		fmt.Fprintf(stdout, "%s: %d images converted\n", book, res.Converted)
		total += res.Converted
	}
	if len(books) > 1 {
		fmt.Fprintf(stdout, "total: %d images converted\n", total)
	}
	return nil
}

// resolveConfig layers the config file (if any) under explicitly set flags.
func resolveConfig(path string, flags config, flagSet *pflag.FlagSet) (config, error) {
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		return flags, flags.validate()
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return cfg, err
	}
	if flagSet.Changed("quality") {
		cfg.Quality = flags.Quality
	}
	if flagSet.Changed("workers") {
		cfg.Workers = flags.Workers
	}
	if flagSet.Changed("strategy") {
		cfg.Strategy = flags.Strategy
	}
	if flagSet.Changed("level") {
		cfg.Level = flags.Level
	}
	if flagSet.Changed("max-dimension") {
		cfg.MaxDimension = flags.MaxDimension
	}
	if flagSet.Changed("log-format") {
		cfg.LogFormat = flags.LogFormat
	}
	if flagSet.Changed("verbose") {
		cfg.Verbose = flags.Verbose
	}
	return cfg, cfg.validate()
}

func newLogger(w io.Writer, cfg config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	handlerOptions := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOptions))
	}
	return slog.New(slog.NewTextHandler(w, handlerOptions))
}

func printReport(w io.Writer, book string, rep *epubjpeg.Report) {
	fmt.Fprintf(w, "%s\n", book)
	if rep.Title != "" {
		fmt.Fprintf(w, "  title:    %s\n", rep.Title)
	}
	fmt.Fprintf(w, "  package:  %s\n", rep.Package)
	fmt.Fprintf(w, "  mimetype: first=%t stored=%t\n", rep.MimetypeFirst, rep.MimetypeStored)
	if rep.DRMProtected {
		fmt.Fprintf(w, "  DRM protected: encrypted images will be copied unchanged\n")
	}
	for _, img := range rep.Images {
		line := fmt.Sprintf("  %s", img.Name)
		if img.NewName != img.Name {
			line += " -> " + img.NewName
		}
		switch {
		case img.Format == "":
			line += " (undecodable, kept)"
		case img.Progressive:
			line += fmt.Sprintf(" (%s %dx%d, progressive)", img.Format, img.Width, img.Height)
		default:
			line += fmt.Sprintf(" (%s %dx%d)", img.Format, img.Width, img.Height)
		}
		fmt.Fprintln(w, line)
	}
	for _, item := range rep.MediaTypeMismatches {
		fmt.Fprintf(w, "  manifest: %s declared %s\n", item.Href, item.MediaType)
	}
	for _, item := range rep.MissingManifestItems {
		fmt.Fprintf(w, "  manifest: %s missing from archive\n", item.Href)
	}
	for _, c := range rep.Collisions {
		fmt.Fprintf(w, "  collision: %s -> %s already exists\n", c.Old, c.New)
	}
	for _, warning := range rep.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `epubjpeg converts the images in ePub files to baseline JPEG.

PNG, GIF, WebP and BMP images are renamed to .jpg and every reference to
them in markup, stylesheets, the NCX and the OPF manifest is updated.
Existing JPEGs are re-encoded in place.

Usage:
  epubjpeg [flags] book.epub [book.epub ...]

Examples:
  # Convert a book in place
  epubjpeg book.epub

  # Write to a new file at quality 75
  epubjpeg -q 75 -o book-baseline.epub book.epub

  # Show what would change
  epubjpeg --dry-run book.epub

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
