package epubjpeg

import (
	"archive/zip"
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// testEntry is one entry of an ordered test archive.
type testEntry struct {
	name   string
	data   string
	method uint16
}

// buildTestZip creates an in-memory ZIP archive from the provided files map
// (path → content) and returns a *zip.Reader over the resulting bytes.
// Entry order is unspecified; use buildTestEPub when order matters.
func buildTestZip(t *testing.T, files map[string]string) *zip.Reader {
	t.Helper()
	entries := make([]testEntry, 0, len(files))
	for name, content := range files {
		entries = append(entries, testEntry{name: name, data: content, method: zip.Deflate})
	}
	data := buildTestEPub(t, entries)
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("buildTestZip: open reader: %v", err)
	}
	return r
}

// buildTestEPub writes entries in order and returns the archive bytes.
// Entries with a zero method are deflated.
func buildTestEPub(t testing.TB, entries []testEntry) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		method := e.method
		if method == 0 && e.name != mimetypeEntry {
			method = zip.Deflate
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		if err != nil {
			t.Fatalf("buildTestEPub: create %s: %v", e.name, err)
		}
		if _, err := fw.Write([]byte(e.data)); err != nil {
			t.Fatalf("buildTestEPub: write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestEPub: close writer: %v", err)
	}
	return buf.Bytes()
}

// buildTestEPubFile writes an ePub archive to a temporary file and returns
// the file path.
func buildTestEPubFile(t *testing.T, entries []testEntry) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "test.epub")
	if err := os.WriteFile(fp, buildTestEPub(t, entries), 0o644); err != nil {
		t.Fatalf("buildTestEPubFile: write file: %v", err)
	}
	return fp
}

// openTestZip opens archive bytes produced by a conversion.
func openTestZip(t testing.TB, data []byte) *zip.Reader {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open converted archive: %v", err)
	}
	return r
}

// entryContent returns the content of the named entry, failing if absent.
func entryContent(t *testing.T, zr *zip.Reader, name string) string {
	t.Helper()
	for _, f := range zr.File {
		if f.Name == name {
			data, err := readEntry(f, maxDecompressSize)
			if err != nil {
				t.Fatalf("read %s: %v", name, err)
			}
			return string(data)
		}
	}
	t.Fatalf("entry %q not found", name)
	return ""
}

// entryNames lists entry names in archive order.
func entryNames(zr *zip.Reader) []string {
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	return names
}

// minimalEPub is a small two-chapter book with one PNG cover, one GIF and
// one JPEG, laid out the way most ePub generators do.
func minimalEPub() []testEntry {
	return []testEntry{
		{name: "mimetype", data: "application/epub+zip", method: zip.Store},
		{name: "META-INF/container.xml", data: `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`},
		{name: "OEBPS/content.opf", data: `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Test Book</dc:title></metadata>
  <manifest>
    <item id="cover" href="images/cover.png" media-type="image/png"/>
    <item id="fig" media-type="image/gif" href="images/fig.gif"/>
    <item id="photo" href="images/photo.jpg" media-type="image/jpeg"/>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
  </manifest>
  <spine toc="ncx"><itemref idref="ch1"/></spine>
</package>`},
		{name: "OEBPS/toc.ncx", data: `<ncx><navMap><navPoint><content src="text/ch1.xhtml"/></navPoint></navMap><docTitle><text>cover.png</text></docTitle></ncx>`},
		{name: "OEBPS/style.css", data: `body { background: url("images/fig.gif"); }`},
		{name: "OEBPS/text/ch1.xhtml", data: `<html><body><img src="../images/cover.png"/><img src="../images/fig.gif"/><img src="../images/photo.jpg"/></body></html>`},
		{name: "OEBPS/images/cover.png", data: "png-bytes"},
		{name: "OEBPS/images/fig.gif", data: "gif-bytes"},
		{name: "OEBPS/images/photo.jpg", data: "jpg-bytes"},
	}
}

// fakeTranscoder returns "JPEG(<input>)" for every input except those
// starting with "corrupt", which fail.
type fakeTranscoder struct {
	calls atomic.Int32
	// onCall, if set, runs before each transcode with the 1-based call number.
	onCall func(n int32)
}

var errFakeCorrupt = errors.New("fake: corrupt image")

func (f *fakeTranscoder) Transcode(data []byte, quality int) ([]byte, error) {
	n := f.calls.Add(1)
	if f.onCall != nil {
		f.onCall(n)
	}
	if strings.HasPrefix(string(data), "corrupt") {
		return nil, errFakeCorrupt
	}
	return []byte("JPEG(" + string(data) + ")"), nil
}

// encodePNG encodes img as PNG.
func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// encodeGIF encodes img as a paletted GIF.
func encodeGIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("gif.Encode: %v", err)
	}
	return buf.Bytes()
}

// encodeJPEG encodes img as a plain image/jpeg JPEG (no JFIF header).
func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

// solidNRGBA returns a w×h image filled with c.
func solidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

var colorOpaqueRed = color.NRGBA{R: 255, A: 255}
