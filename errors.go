package epubjpeg

import "errors"

// Sentinel errors returned by the epubjpeg package.
var (
	// ErrInvalidQuality indicates a JPEG quality outside 1..100.
	ErrInvalidQuality = errors.New("epubjpeg: quality must be between 1 and 100")

	// ErrUnsupportedImage indicates an image entry could not be decoded.
	// Convert never returns it; the entry is passed through unchanged.
	ErrUnsupportedImage = errors.New("epubjpeg: unsupported or corrupt image")

	// ErrEncodeFailed indicates the JPEG encoder rejected a decoded image.
	ErrEncodeFailed = errors.New("epubjpeg: jpeg encode failed")

	// ErrInvalidEPub indicates the archive is not a structurally valid ePub
	// (e.g., missing container.xml and no .opf file found).
	ErrInvalidEPub = errors.New("epubjpeg: invalid ePub file")

	// ErrDRMProtected indicates the ePub carries a DRM encryption descriptor.
	ErrDRMProtected = errors.New("epubjpeg: file is DRM protected")

	// ErrFileNotFound indicates the requested file does not exist
	// in the ePub archive.
	ErrFileNotFound = errors.New("epubjpeg: file not found in archive")

	// ErrEntryTooLarge indicates an entry exceeds the decompression limit.
	ErrEntryTooLarge = errors.New("epubjpeg: zip entry too large")
)
