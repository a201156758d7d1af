package epubjpeg

import (
	"errors"
	"io"
)

// jfifWriter wraps an io.Writer to turn the plain JPEG written by image/jpeg
// into a JFIF JPEG. It buffers the first three bytes written to it; the
// fourth byte tells whether the stream already starts with an APP0 segment.
type jfifWriter struct {
	w io.Writer
	// n is the number of bytes written so far, saturating at 4.
	n int
}

// jfifChunk is SOI, an APP0/JFIF segment (version 1.01, 1:1 aspect, no
// thumbnail) and the 0xff that starts the next segment.
var jfifChunk = []byte{
	0xff, 0xd8,
	0xff, 0xe0,
	0x00, 0x10,
	'J', 'F', 'I', 'F', 0x00,
	0x01, 0x01,
	0x00,
	0x00, 0x01,
	0x00, 0x01,
	0x00, 0x00,
	0xff,
}

func (jw *jfifWriter) Write(p []byte) (int, error) {
	nSkipped := 0

	for jw.n < 3 {
		if len(p) == 0 {
			return nSkipped, nil
		} else if p[0] != jfifChunk[jw.n] {
			return nSkipped, errors.New("jfifWriter: input was not a JPEG")
		}
		nSkipped++
		jw.n++
		p = p[1:]
	}

	if jw.n == 3 {
		if len(p) == 0 {
			return nSkipped, nil
		}
		chunk := jfifChunk
		if p[0] == 0xe0 {
			// Already has APP0: only replay the three skipped bytes.
			chunk = chunk[:3]
		}
		if _, err := jw.w.Write(chunk); err != nil {
			return nSkipped, err
		}
		jw.n = 4
	}

	n, err := jw.w.Write(p)
	return n + nSkipped, err
}
