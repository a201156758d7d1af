package epubjpeg

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Rewriter updates references to renamed entries inside a textual entry.
//
// name is the entry's path inside the archive, data its raw bytes and
// manifest reports whether the entry is the package manifest (.opf), in
// which case declared media types of renamed images are updated too.
// A Rewriter returning an error leaves the entry's original bytes in place.
type Rewriter interface {
	Rewrite(name string, data []byte, renames *RenameMap, manifest bool) ([]byte, error)
}

// SubstitutionRewriter replaces every occurrence of each renamed entry's
// basename and full path throughout the text, in rename map order.
//
// The substitution is not scoped to markup: an unrelated string containing
// an old basename is rewritten as well. Use AttributeRewriter when that
// matters more than byte-compatible output.
type SubstitutionRewriter struct{}

// Rewrite implements Rewriter. Data that is not valid UTF-8 is returned unchanged.
func (SubstitutionRewriter) Rewrite(_ string, data []byte, renames *RenameMap, manifest bool) ([]byte, error) {
	if !utf8.Valid(data) {
		return data, nil
	}
	text := string(data)
	for _, r := range renames.Pairs() {
		text = strings.ReplaceAll(text, basename(r.Old), basename(r.New))
		text = strings.ReplaceAll(text, r.Old, r.New)
	}
	if manifest {
		text = patchMediaTypes(text)
	}
	return []byte(text), nil
}

// Manifest media-type patterns. An href ending in .jpg and a media-type
// naming one of the renamed source formats within one tag-like fragment
// (no '>' between them) get the media-type rewritten to image/jpeg.
// Both attribute orders are handled.
var (
	hrefBeforeMediaType = regexp.MustCompile(`href="([^"]+\.jpg)"([^>]*)media-type="image/(png|gif|webp|bmp)"`)
	mediaTypeBeforeHref = regexp.MustCompile(`media-type="image/(png|gif|webp|bmp)"([^>]*)href="([^"]+\.jpg)"`)
)

// patchMediaTypes applies both manifest media-type patterns to text.
func patchMediaTypes(text string) string {
	text = hrefBeforeMediaType.ReplaceAllString(text, `href="${1}"${2}media-type="image/jpeg"`)
	text = mediaTypeBeforeHref.ReplaceAllString(text, `media-type="image/jpeg"${2}href="${3}"`)
	return text
}
