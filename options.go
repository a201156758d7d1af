package epubjpeg

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/klauspost/compress/flate"
)

// Options controls a conversion. The zero value is ready to use.
type Options struct {
	// Quality is the JPEG quality, 1..100. Zero selects DefaultQuality.
	Quality int

	// Workers bounds how many images are transcoded concurrently.
	// Zero selects runtime.GOMAXPROCS(0). Output order never depends on it.
	Workers int

	// Notify, if set, receives one human-readable line per renamed image:
	// "[Baseline JPEG] Converted: <old> -> <new>".
	Notify func(string)

	// Logger receives structured diagnostics. Nil discards them.
	Logger *slog.Logger

	// Rewriter updates references in textual entries.
	// Nil selects SubstitutionRewriter.
	Rewriter Rewriter

	// Transcoder re-encodes image entries. Nil selects a JPEGTranscoder
	// with MaxDimension.
	Transcoder Transcoder

	// MaxDimension is passed to the default JPEGTranscoder. Zero disables
	// downscaling. Ignored when Transcoder is set.
	MaxDimension int

	// CompressionLevel is the deflate level for compressed entries
	// (flate.HuffmanOnly..flate.BestCompression). Zero selects
	// flate.DefaultCompression; use flate.NoCompression's value via
	// StoreLevel to write deflate streams without compression.
	CompressionLevel int
}

// StoreLevel requests deflate level 0 (flate.NoCompression). The zero value
// of Options.CompressionLevel already means "default", so level 0 needs its
// own spelling.
const StoreLevel = -100

// withDefaults validates o and fills in defaults.
func (o Options) withDefaults() (Options, error) {
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.Quality < 1 || o.Quality > 100 {
		return o, fmt.Errorf("%w: got %d", ErrInvalidQuality, o.Quality)
	}
	if o.Workers < 0 {
		return o, fmt.Errorf("epubjpeg: workers must not be negative: %d", o.Workers)
	}
	if o.Workers == 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.MaxDimension < 0 {
		return o, fmt.Errorf("epubjpeg: max dimension must not be negative: %d", o.MaxDimension)
	}
	switch {
	case o.CompressionLevel == 0:
		o.CompressionLevel = flate.DefaultCompression
	case o.CompressionLevel == StoreLevel:
		o.CompressionLevel = flate.NoCompression
	case o.CompressionLevel < flate.HuffmanOnly || o.CompressionLevel > flate.BestCompression:
		return o, fmt.Errorf("epubjpeg: invalid compression level %d", o.CompressionLevel)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Rewriter == nil {
		o.Rewriter = SubstitutionRewriter{}
	}
	if o.Transcoder == nil {
		o.Transcoder = JPEGTranscoder{MaxDimension: o.MaxDimension}
	}
	return o, nil
}
