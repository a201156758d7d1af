package main

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/crosspoint-reader/epubjpeg"
)

// writeBook writes a one-chapter ePub with a single PNG illustration.
func writeBook(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	entries := []struct{ name, data string }{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", `<container><rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`},
		{"OEBPS/content.opf", `<package version="3.0"><metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>CLI Book</dc:title></metadata><manifest><item id="i" href="cover.png" media-type="image/png"/></manifest></package>`},
		{"OEBPS/ch1.xhtml", `<html><body><img src="cover.png"/></body></html>`},
		{"OEBPS/cover.png", pngBuf.String()},
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.name == "mimetype" {
			method = zip.Store
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if _, err := fw.Write([]byte(e.data)); err != nil {
			t.Fatalf("write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	fp := filepath.Join(dir, name)
	if err := os.WriteFile(fp, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", fp, err)
	}
	return fp
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "epubjpeg.yaml")
	if err := os.WriteFile(fp, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return fp
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    config
		wantErr string
	}{
		{
			name:    "empty file keeps defaults",
			content: "",
			want:    defaultConfig(),
		},
		{
			name: "all keys",
			content: `quality: 70
workers: 3
strategy: attribute
level: 9
max_dimension: 1200
log_format: json
verbose: true
`,
			want: config{Quality: 70, Workers: 3, Strategy: "attribute", Level: 9, MaxDimension: 1200, LogFormat: "json", Verbose: true},
		},
		{
			name:    "partial file",
			content: "quality: 60\n",
			want: func() config {
				c := defaultConfig()
				c.Quality = 60
				return c
			}(),
		},
		{
			name:    "unknown key",
			content: "qualty: 60\n",
			wantErr: "field qualty not found",
		},
		{
			name:    "bad strategy",
			content: "strategy: regex\n",
			wantErr: "unknown strategy",
		},
		{
			name:    "bad log format",
			content: "log_format: xml\n",
			wantErr: "unknown log format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadConfig(writeConfig(t, tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("loadConfig() err = %v; want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig() err = %v", err)
			}
			if got != tt.want {
				t.Errorf("loadConfig() = %+v; want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("loadConfig() succeeded on a missing file")
	}
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	t.Setenv(configEnv, "")
	path := writeConfig(t, "quality: 60\nworkers: 2\nstrategy: attribute\n")

	flags := defaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntVarP(&flags.Quality, "quality", "q", flags.Quality, "")
	fs.IntVar(&flags.Workers, "workers", flags.Workers, "")
	fs.StringVar(&flags.Strategy, "strategy", flags.Strategy, "")
	if err := fs.Parse([]string{"-q", "90"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := resolveConfig(path, flags, fs)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.Quality != 90 {
		t.Errorf("Quality = %d; want flag value 90", cfg.Quality)
	}
	if cfg.Workers != 2 || cfg.Strategy != "attribute" {
		t.Errorf("Workers = %d, Strategy = %q; want file values", cfg.Workers, cfg.Strategy)
	}
}

func TestResolveConfig_Env(t *testing.T) {
	t.Setenv(configEnv, writeConfig(t, "quality: 42\n"))
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := resolveConfig("", defaultConfig(), fs)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.Quality != 42 {
		t.Errorf("Quality = %d; want 42 from %s", cfg.Quality, configEnv)
	}
}

func TestConfigOptions(t *testing.T) {
	c := defaultConfig()
	opts := c.options()
	if _, ok := opts.Rewriter.(epubjpeg.SubstitutionRewriter); !ok {
		t.Errorf("default Rewriter = %T; want SubstitutionRewriter", opts.Rewriter)
	}

	c.Strategy = "attribute"
	c.Level = 0
	opts = c.options()
	if _, ok := opts.Rewriter.(epubjpeg.AttributeRewriter); !ok {
		t.Errorf("Rewriter = %T; want AttributeRewriter", opts.Rewriter)
	}
	if opts.CompressionLevel != epubjpeg.StoreLevel {
		t.Errorf("CompressionLevel = %d; want StoreLevel", opts.CompressionLevel)
	}
}

func TestRun_Convert(t *testing.T) {
	t.Setenv(configEnv, "")
	book := writeBook(t, t.TempDir(), "book.epub")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"-q", "80", book}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "[Baseline JPEG] Converted: OEBPS/cover.png -> OEBPS/cover.jpg") {
		t.Errorf("stdout missing notify line:\n%s", out)
	}
	if !strings.Contains(out, book+": 1 images converted") {
		t.Errorf("stdout missing summary:\n%s", out)
	}

	zr, err := zip.OpenReader(book)
	if err != nil {
		t.Fatalf("open converted book: %v", err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "mimetype,META-INF/container.xml,OEBPS/content.opf,OEBPS/ch1.xhtml,OEBPS/cover.jpg" {
		t.Errorf("entries = %v", names)
	}
}

func TestRun_OutputAndTotals(t *testing.T) {
	t.Setenv(configEnv, "")
	dir := t.TempDir()
	a := writeBook(t, dir, "a.epub")
	b := writeBook(t, dir, "b.epub")

	var stdout, stderr bytes.Buffer
	err := run([]string{"-o", filepath.Join(dir, "out.epub"), a, b}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "exactly one input") {
		t.Fatalf("run() err = %v; want --output arity error", err)
	}

	stdout.Reset()
	if err := run([]string{"--workers", "2", "--strategy", "attribute", a, b}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "total: 2 images converted") {
		t.Errorf("stdout missing total:\n%s", stdout.String())
	}

	out := filepath.Join(dir, "out.epub")
	original, _ := os.ReadFile(a)
	if err := run([]string{"--output", out, a}, &stdout, &stderr); err != nil {
		t.Fatalf("run --output: %v", err)
	}
	after, _ := os.ReadFile(a)
	if !bytes.Equal(original, after) {
		t.Error("--output modified the input")
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output not written: %v", err)
	}
}

func TestRun_DryRun(t *testing.T) {
	t.Setenv(configEnv, "")
	book := writeBook(t, t.TempDir(), "book.epub")
	before, _ := os.ReadFile(book)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--dry-run", book}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	after, _ := os.ReadFile(book)
	if !bytes.Equal(before, after) {
		t.Error("--dry-run modified the book")
	}
	for _, want := range []string{
		"title:    CLI Book",
		"package:  OEBPS/content.opf",
		"mimetype: first=true stored=true",
		"OEBPS/cover.png -> OEBPS/cover.jpg (png 4x4)",
	} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("report missing %q:\n%s", want, stdout.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	t.Setenv(configEnv, "")
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no input", nil, "no input files"},
		{"bad quality", []string{"-q", "101", "x.epub"}, "quality"},
		{"bad strategy", []string{"--strategy", "regex", "x.epub"}, "unknown strategy"},
		{"unknown flag", []string{"--nope"}, "unknown flag"},
		{"missing book", []string{filepath.Join(t.TempDir(), "missing.epub")}, "converting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(tt.args, &stdout, &stderr)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run(%v) err = %v; want containing %q", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"--help"}, &stdout, &stderr); err != nil {
		t.Fatalf("run --help: %v", err)
	}
	if !strings.Contains(stderr.String(), "Usage:") || !strings.Contains(stderr.String(), "--max-dimension") {
		t.Errorf("help output:\n%s", stderr.String())
	}
}
