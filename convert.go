package epubjpeg

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"
)

// zipVersion20 is the "version needed to extract" for stored and deflated
// entries (2.0).
const zipVersion20 = 20

// Result summarises a successful conversion.
type Result struct {
	// Converted is the number of image entries successfully re-encoded,
	// renamed or not.
	Converted int

	// Renamed lists the image entries whose name changed, in archive order.
	Renamed []Rename

	// Skipped lists image entries the transcoder rejected. They are copied
	// unchanged and not counted in Converted.
	Skipped []string
}

// ConvertFile converts every image in the ePub at src to baseline JPEG and
// writes the result to dst. An empty dst overwrites src.
//
// The output is assembled in a temporary file next to dst and renamed over
// it only after every entry has been written. On error the temporary file is
// removed and dst is left exactly as it was.
func ConvertFile(ctx context.Context, src, dst string, opts Options) (Result, error) {
	if dst == "" {
		dst = src
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return Result{}, err
	}

	zrc, err := zip.OpenReader(src)
	if err != nil {
		return Result{}, fmt.Errorf("epubjpeg: open %s: %w", src, err)
	}
	defer zrc.Close()

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(dst); err == nil {
		mode = info.Mode().Perm()
	} else if info, err := os.Stat(src); err == nil {
		mode = info.Mode().Perm()
	}

	var res Result
	err = writeAtomic(dst, mode, func(w io.Writer) error {
		c := newConverter(&zrc.Reader, opts)
		var err error
		res, err = c.run(ctx, w)
		if err != nil {
			return err
		}
		// Release the source before it is replaced.
		return zrc.Close()
	})
	if err != nil {
		return Result{}, err
	}
	opts.Logger.Info("converted ePub", "src", src, "dst", dst,
		"converted", res.Converted, "renamed", len(res.Renamed), "skipped", len(res.Skipped))
	return res, nil
}

// Convert reads an ePub from r and writes the converted archive to w.
// Nothing is written to w if the source cannot be opened; if an error is
// returned after that, w holds a partial archive and must be discarded.
func Convert(ctx context.Context, r io.ReaderAt, size int64, w io.Writer, opts Options) (Result, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return Result{}, err
	}
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Result{}, fmt.Errorf("epubjpeg: open zip: %w", err)
	}
	return newConverter(zr, opts).run(ctx, w)
}

// writeAtomic runs fill against a temporary file in dst's directory and
// renames it over dst on success.
func writeAtomic(dst string, mode fs.FileMode, fill func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("epubjpeg: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = fill(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(mode); err != nil {
		return fmt.Errorf("epubjpeg: chmod temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("epubjpeg: sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("epubjpeg: close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("epubjpeg: replace %s: %w", dst, err)
	}
	return nil
}

// converter holds the state of one conversion run.
type converter struct {
	zr      *zip.Reader
	opts    Options
	renames *RenameMap
	limit   int64
}

// newConverter plans the renames for zr. The plan is fixed before any
// entry content is read.
func newConverter(zr *zip.Reader, opts Options) *converter {
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	return &converter{
		zr:      zr,
		opts:    opts,
		renames: PlanRenames(names),
		limit:   maxDecompressSize,
	}
}

// entryResult is the processed form of one source entry.
type entryResult struct {
	name      string
	data      []byte
	converted bool
	skipped   bool
}

// run processes every entry and writes the new archive to w in source order.
// Entries are processed by up to opts.Workers goroutines; a bounded window
// keeps at most 2*Workers processed entries waiting for the writer.
func (c *converter) run(ctx context.Context, w io.Writer) (Result, error) {
	c.warnEncryption()

	zw := zip.NewWriter(w)
	level := c.opts.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	files := c.zr.File
	results := make([]chan entryResult, len(files))
	for i := range results {
		results[i] = make(chan entryResult, 1)
	}
	window := make(chan struct{}, 2*c.opts.Workers)
	launched := make(chan struct{})

	go func() {
		defer close(launched)
		for i, f := range files {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return
			}
			g.Go(func() error {
				res, err := c.processEntry(gctx, f)
				if err != nil {
					return err
				}
				results[i] <- res
				return nil
			})
		}
	}()

	var res Result
	var writeErr error
write:
	for i, f := range files {
		select {
		case er := <-results[i]:
			if writeErr = c.writeEntry(zw, f, er); writeErr != nil {
				cancel()
				break write
			}
			res.record(f.Name, er, c.opts.Notify)
			<-window
		case <-gctx.Done():
			break write
		}
	}

	<-launched
	groupErr := g.Wait()
	switch {
	case writeErr != nil:
		return Result{}, writeErr
	case groupErr != nil:
		return Result{}, groupErr
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	}

	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("epubjpeg: finish archive: %w", err)
	}
	return res, nil
}

// record folds one written entry into the result.
func (r *Result) record(original string, er entryResult, notify func(string)) {
	if er.skipped {
		r.Skipped = append(r.Skipped, original)
	}
	if !er.converted {
		return
	}
	r.Converted++
	if er.name != original {
		r.Renamed = append(r.Renamed, Rename{Old: original, New: er.name})
		if notify != nil {
			notify(fmt.Sprintf("[Baseline JPEG] Converted: %s -> %s", original, er.name))
		}
	}
}

// processEntry reads one entry and routes it through the transcoder or the
// rewriter. Only read errors are returned; codec and rewrite failures keep
// the original bytes.
func (c *converter) processEntry(ctx context.Context, f *zip.File) (entryResult, error) {
	if err := ctx.Err(); err != nil {
		return entryResult{}, err
	}
	data, err := readEntry(f, c.limit)
	if err != nil {
		return entryResult{}, err
	}
	er := entryResult{name: f.Name, data: data}

	switch kind := classify(f.Name); kind {
	case kindImage:
		out, err := c.opts.Transcoder.Transcode(data, c.opts.Quality)
		if err != nil || len(out) == 0 {
			c.opts.Logger.Debug("image kept unchanged", "entry", f.Name, "error", err)
			er.skipped = true
			return er, nil
		}
		er.data = out
		er.converted = true
		if newName, ok := c.renames.Lookup(f.Name); ok {
			er.name = newName
		}

	case kindText, kindManifest:
		out, err := c.opts.Rewriter.Rewrite(f.Name, data, c.renames, kind == kindManifest)
		if err != nil {
			c.opts.Logger.Debug("text entry kept unchanged", "entry", f.Name, "kind", kind, "error", err)
			return er, nil
		}
		er.data = out
	}
	return er, nil
}

// writeEntry writes a processed entry. The mimetype entry is always stored;
// every other entry is deflated regardless of how it was stored before.
func (c *converter) writeEntry(zw *zip.Writer, f *zip.File, er entryResult) error {
	if f.Name == mimetypeEntry {
		return writeMimetype(zw, f, er.data)
	}
	header := &zip.FileHeader{
		Name:     er.name,
		Method:   zip.Deflate,
		Modified: f.Modified,
	}
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("epubjpeg: write entry %s: %w", er.name, err)
	}
	if _, err := fw.Write(er.data); err != nil {
		return fmt.Errorf("epubjpeg: write entry %s: %w", er.name, err)
	}
	return nil
}

// writeMimetype writes the mimetype entry with sizes and CRC in the local
// header, no extra field and no data descriptor, so its content starts at
// byte 38 of the archive.
func writeMimetype(zw *zip.Writer, f *zip.File, data []byte) error {
	header := &zip.FileHeader{
		Name:               mimetypeEntry,
		Method:             zip.Store,
		CreatorVersion:     zipVersion20,
		ReaderVersion:      zipVersion20,
		ModifiedTime:       f.ModifiedTime,
		ModifiedDate:       f.ModifiedDate,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
	}
	fw, err := zw.CreateRaw(header)
	if err != nil {
		return fmt.Errorf("epubjpeg: write entry %s: %w", mimetypeEntry, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("epubjpeg: write entry %s: %w", mimetypeEntry, err)
	}
	return nil
}

// warnEncryption logs when the archive carries an encryption descriptor.
// Encrypted images fail to decode and pass through unchanged.
func (c *converter) warnEncryption() {
	fontObfuscation, err := checkDRM(c.zr)
	switch {
	case errors.Is(err, ErrDRMProtected):
		c.opts.Logger.Warn("ePub appears DRM protected; encrypted images will be copied unchanged")
	case err != nil:
		c.opts.Logger.Warn("cannot read encryption descriptor", "error", err)
	case fontObfuscation:
		c.opts.Logger.Debug("font obfuscation detected")
	}
}
