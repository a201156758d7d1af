package epubjpeg

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"path"
	"strings"
)

// Report describes what a conversion would do to an ePub, without writing
// anything.
type Report struct {
	// Package is the OPF path, empty if it could not be located.
	Package string

	// Title is the first dc:title, if any.
	Title string

	// MimetypeFirst and MimetypeStored report whether the mimetype entry is
	// the first entry and stored uncompressed.
	MimetypeFirst  bool
	MimetypeStored bool

	// DRMProtected is set when an encryption descriptor names content
	// other than obfuscated fonts.
	DRMProtected    bool
	FontObfuscation bool

	// Images lists every image entry in archive order.
	Images []ImageReport

	// MediaTypeMismatches lists manifest items whose declared media type
	// disagrees with the referenced image's extension.
	MediaTypeMismatches []ManifestItem

	// MissingManifestItems lists local manifest items whose href does not
	// resolve to an entry in the archive.
	MissingManifestItems []ManifestItem

	// Collisions lists planned renames whose target name already exists.
	Collisions []Rename

	// Warnings holds non-fatal problems found while inspecting.
	Warnings []string
}

// ImageReport describes one image entry.
type ImageReport struct {
	Name string

	// NewName is the entry's name after conversion; equal to Name for JPEGs.
	NewName string

	// Format is the decoder that recognised the image ("png", "webp", ...);
	// empty when the header cannot be decoded.
	Format        string
	Width, Height int

	// Progressive is set for JPEG entries with a progressive frame header.
	Progressive bool
}

// InspectFile inspects the ePub at path.
func InspectFile(path string) (*Report, error) {
	zrc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("epubjpeg: open %s: %w", path, err)
	}
	defer zrc.Close()
	return inspect(&zrc.Reader)
}

// Inspect inspects an ePub read from r.
func Inspect(r io.ReaderAt, size int64) (*Report, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("epubjpeg: open zip: %w", err)
	}
	return inspect(zr)
}

func inspect(zr *zip.Reader) (*Report, error) {
	rep := &Report{}
	rep.inspectMimetype(zr)

	enc, err := readEncryption(zr)
	switch {
	case errors.Is(err, ErrDRMProtected):
		rep.DRMProtected = true
	case err != nil:
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("cannot read encryption descriptor: %v", err))
	default:
		rep.DRMProtected = len(enc.entries) > 0
		rep.FontObfuscation = enc.fontObfuscation
	}

	names := make([]string, len(zr.File))
	existing := make(map[string]bool, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
		existing[f.Name] = true
		if !isSafePath(f.Name) {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("unsafe entry path: %s", f.Name))
		}
	}
	renames := PlanRenames(names)
	for _, r := range renames.Pairs() {
		if existing[r.New] {
			rep.Collisions = append(rep.Collisions, r)
		}
	}

	for _, f := range zr.File {
		if classify(f.Name) != kindImage {
			continue
		}
		img, err := inspectImage(f, renames)
		if err != nil {
			return nil, err
		}
		rep.Images = append(rep.Images, img)
	}

	rep.inspectPackage(zr)
	return rep, nil
}

// inspectMimetype checks the placement and compression of the mimetype entry.
func (rep *Report) inspectMimetype(zr *zip.Reader) {
	for i, f := range zr.File {
		if f.Name != mimetypeEntry {
			continue
		}
		rep.MimetypeFirst = i == 0
		rep.MimetypeStored = f.Method == zip.Store
		return
	}
	rep.Warnings = append(rep.Warnings, "mimetype entry missing")
}

// inspectImage decodes the image header of f.
func inspectImage(f *zip.File, renames *RenameMap) (ImageReport, error) {
	img := ImageReport{Name: f.Name, NewName: f.Name}
	if newName, ok := renames.Lookup(f.Name); ok {
		img.NewName = newName
	}
	data, err := readEntry(f, maxDecompressSize)
	if err != nil {
		return img, err
	}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Format = format
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	img.Progressive = isProgressiveJPEG(data)
	return img, nil
}

// inspectPackage compares manifest media types with image extensions and
// checks that every local manifest item exists.
// A missing or unparsable package is only a warning.
func (rep *Report) inspectPackage(zr *zip.Reader) {
	opfPath, err := locatePackage(zr)
	if err != nil {
		rep.Warnings = append(rep.Warnings, err.Error())
		return
	}
	rep.Package = opfPath

	pkg, err := readPackage(zr, opfPath)
	if err != nil {
		rep.Warnings = append(rep.Warnings, err.Error())
		return
	}
	if len(pkg.Titles) > 0 {
		rep.Title = strings.TrimSpace(pkg.Titles[0])
	}
	for _, item := range pkg.manifestItems(opfPath) {
		if !strings.Contains(item.Href, "://") &&
			(item.Entry == "" || findFileInsensitive(zr, item.Entry) == nil) {
			rep.MissingManifestItems = append(rep.MissingManifestItems, item)
		}
		want, ok := imageMediaTypes[strings.ToLower(path.Ext(item.Href))]
		if !ok || !strings.HasPrefix(item.MediaType, "image/") {
			continue
		}
		if !strings.EqualFold(item.MediaType, want) {
			rep.MediaTypeMismatches = append(rep.MediaTypeMismatches, item)
		}
	}
}
