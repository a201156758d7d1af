// Package epubjpeg rewrites ePub files so that every embedded image is a
// baseline (non-progressive) JPEG, keeping every reference to a renamed
// image consistent across the package.
//
// Minimal and legacy readers often cannot decode progressive JPEGs, PNGs with
// alpha, WebP or BMP images. Converting them ahead of time produces a book
// such readers display correctly.
//
// # Converting a book
//
// Use [ConvertFile] to convert a file in place, or to a separate output:
//
//	res, err := epubjpeg.ConvertFile(ctx, "book.epub", "", epubjpeg.Options{Quality: 85})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Converted, "images converted")
//
// [Convert] works on an [io.ReaderAt] and writes the archive to an [io.Writer].
//
// # What changes
//
// Every entry ending in .jpg, .jpeg, .png, .gif, .webp or .bmp is re-encoded.
// PNG, GIF, WebP and BMP entries are renamed to .jpg; JPEG entries keep their
// name. References to renamed entries are rewritten in .xhtml, .html, .htm,
// .css and .ncx entries, and in the package manifest (.opf), where the
// declared media-type of a renamed image becomes image/jpeg.
//
// Images that fail to decode are copied unchanged and reported in
// [Result.Skipped]. The mimetype entry is always written stored
// (uncompressed); every other entry is deflated.
//
// # Rewrite strategies
//
// [SubstitutionRewriter], the default, replaces old names anywhere in the
// text.
// [AttributeRewriter] only touches markup attributes and CSS url(...)
// references that resolve to a renamed entry. Any [Rewriter] can be set on
// [Options].
//
// # Inspecting
//
// [InspectFile] reports what a conversion would do, including progressive
// JPEGs, manifest media-type mismatches and rename collisions, without
// writing anything.
//
// # Error Handling
//
// Failures to open, read or write the archive abort the conversion and leave
// the destination untouched. The package defines sentinel errors:
//   - [ErrInvalidQuality] – quality outside 1..100
//   - [ErrEntryTooLarge] – an entry exceeds the decompression limit
//   - [ErrUnsupportedImage], [ErrEncodeFailed] – returned by [JPEGTranscoder]
//   - [ErrInvalidEPub], [ErrFileNotFound], [ErrDRMProtected] – inspection
package epubjpeg
