package epubjpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// JPEG markers used by the frame scan.
const (
	markerSOF0 = 0xc0 // baseline DCT
	markerSOF2 = 0xc2 // progressive DCT
	markerDHT  = 0xc4
	markerJPG  = 0xc8
	markerDAC  = 0xcc
	markerSOI  = 0xd8
	markerEOI  = 0xd9
	markerSOS  = 0xda
)

var errNotJPEG = errors.New("epubjpeg: not a JPEG stream")

// IsBaselineJPEG reports whether data is a JPEG whose frame header is SOF0
// (baseline sequential DCT). Progressive, extended and lossless frames
// report false. An error is returned when no frame header can be found.
func IsBaselineJPEG(data []byte) (bool, error) {
	sof, err := jpegFrameMarker(data)
	if err != nil {
		return false, err
	}
	return sof == markerSOF0, nil
}

// isProgressiveJPEG reports whether data carries a progressive frame header.
func isProgressiveJPEG(data []byte) bool {
	sof, err := jpegFrameMarker(data)
	return err == nil && (sof == markerSOF2 || sof == 0xc6 || sof == 0xca || sof == 0xce)
}

// jpegFrameMarker walks the marker segments of a JPEG stream up to the
// first start-of-frame marker and returns it.
func jpegFrameMarker(data []byte) (byte, error) {
	if len(data) < 4 || data[0] != 0xff || data[1] != markerSOI {
		return 0, errNotJPEG
	}
	pos := 2
	for pos < len(data) {
		if data[pos] != 0xff {
			return 0, fmt.Errorf("%w: expected marker at offset %d", errNotJPEG, pos)
		}
		// Skip fill bytes.
		for pos < len(data) && data[pos] == 0xff {
			pos++
		}
		if pos >= len(data) {
			break
		}
		marker := data[pos]
		pos++

		switch {
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			continue
		case marker == markerEOI || marker == markerSOS:
			return 0, fmt.Errorf("%w: no frame header before marker %#x", errNotJPEG, marker)
		case marker >= 0xc0 && marker <= 0xcf && marker != markerDHT && marker != markerJPG && marker != markerDAC:
			return marker, nil
		}

		if pos+2 > len(data) {
			break
		}
		length := int(binary.BigEndian.Uint16(data[pos:]))
		if length < 2 {
			return 0, fmt.Errorf("%w: bad segment length at offset %d", errNotJPEG, pos)
		}
		pos += length
	}
	return 0, fmt.Errorf("%w: truncated", errNotJPEG)
}
