package epubjpeg

import "strings"

// Entry categories, matched case-insensitively against the entry name suffix.
var (
	imageExtensions   = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
	renameExtensions  = []string{".png", ".gif", ".webp", ".bmp"}
	textExtensions    = []string{".xhtml", ".html", ".htm", ".css", ".ncx"}
	manifestExtension = ".opf"
)

// mimetypeEntry is the reserved entry that must stay first and stored.
const mimetypeEntry = "mimetype"

// jpegExtension is the extension given to every renamed image.
const jpegExtension = ".jpg"

type entryKind int

const (
	kindOther entryKind = iota
	kindImage
	kindText
	kindManifest
)

// String returns a short label used in logs and inspection reports.
func (k entryKind) String() string {
	switch k {
	case kindImage:
		return "image"
	case kindText:
		return "text"
	case kindManifest:
		return "manifest"
	default:
		return "other"
	}
}

// classify reports how an entry is processed, based only on its name.
func classify(name string) entryKind {
	lower := strings.ToLower(name)
	switch {
	case hasAnySuffix(lower, imageExtensions):
		return kindImage
	case hasAnySuffix(lower, textExtensions):
		return kindText
	case strings.HasSuffix(lower, manifestExtension):
		return kindManifest
	default:
		return kindOther
	}
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// Rename is a single old → new entry name pair.
type Rename struct {
	Old string
	New string
}

// RenameMap maps original entry names to their renamed ".jpg" names.
// Iteration order is the order in which names were discovered in the archive,
// which keeps substitution order deterministic when one old name is a
// substring of another.
//
// A RenameMap is read-only once built and safe for concurrent readers.
type RenameMap struct {
	pairs []Rename
	index map[string]int
}

// PlanRenames derives the rename map from the archive's entry names.
// Every name whose lowercase form ends in .png, .gif, .webp or .bmp is mapped
// to the same name with its final extension replaced by ".jpg". JPEG entries
// are never renamed. Later duplicates of a name are ignored.
func PlanRenames(names []string) *RenameMap {
	m := &RenameMap{index: make(map[string]int)}
	for _, name := range names {
		if !hasAnySuffix(strings.ToLower(name), renameExtensions) {
			continue
		}
		if _, dup := m.index[name]; dup {
			continue
		}
		base := name[:strings.LastIndexByte(name, '.')]
		m.index[name] = len(m.pairs)
		m.pairs = append(m.pairs, Rename{Old: name, New: base + jpegExtension})
	}
	return m
}

// Lookup returns the new name for old, if old is renamed.
func (m *RenameMap) Lookup(old string) (string, bool) {
	if m == nil {
		return "", false
	}
	i, ok := m.index[old]
	if !ok {
		return "", false
	}
	return m.pairs[i].New, true
}

// Len returns the number of renamed entries.
func (m *RenameMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.pairs)
}

// Pairs returns the renames in discovery order.
func (m *RenameMap) Pairs() []Rename {
	if m == nil {
		return nil
	}
	return append([]Rename(nil), m.pairs...)
}

// basename returns the text after the last '/' of an entry name.
func basename(name string) string {
	return name[strings.LastIndexByte(name, '/')+1:]
}
