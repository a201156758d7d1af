package epubjpeg

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// referenceAttrs is the set of attributes that may point at an image entry.
var referenceAttrs = map[string]bool{
	"src":        true,
	"href":       true,
	"xlink:href": true,
	"poster":     true,
	"data":       true,
}

// cssURLPattern matches url(...) references in stylesheets and style attributes.
var cssURLPattern = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+)(['"]?)\s*\)`)

// AttributeRewriter rewrites only markup attributes (src, href, xlink:href,
// poster, data) and CSS url(...) references that resolve to a renamed entry.
// References are resolved relative to the entry containing them, so a
// basename that merely appears in prose is left alone.
//
// Tokens that need no change are copied byte for byte.
type AttributeRewriter struct{}

// Rewrite implements Rewriter. Data that is not valid UTF-8 is returned unchanged.
func (AttributeRewriter) Rewrite(name string, data []byte, renames *RenameMap, manifest bool) ([]byte, error) {
	if !utf8.Valid(data) || renames.Len() == 0 {
		return data, nil
	}
	if strings.HasSuffix(strings.ToLower(name), ".css") {
		return []byte(rewriteCSS(name, string(data), renames)), nil
	}
	return rewriteMarkup(name, data, renames, manifest)
}

// rewriteMarkup walks the token stream and patches the raw text of tags
// whose reference attributes resolve to renamed entries.
func rewriteMarkup(name string, data []byte, renames *RenameMap, manifest bool) ([]byte, error) {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var out bytes.Buffer
	out.Grow(len(data))
	inStyle := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			err := tokenizer.Err()
			if errors.Is(err, io.EOF) {
				return out.Bytes(), nil
			}
			return nil, err

		case html.StartTagToken, html.SelfClosingTagToken:
			raw := string(tokenizer.Raw())
			tn, hasAttr := tokenizer.TagName()
			a := atom.Lookup(tn)
			if a == atom.Style && tt == html.StartTagToken {
				inStyle = true
			}
			if hasAttr {
				raw = rewriteTag(name, raw, renames, manifest)
			}
			out.WriteString(raw)

		case html.EndTagToken:
			// TagName lowercases the token buffer in place; copy Raw first.
			out.Write(tokenizer.Raw())
			tn, _ := tokenizer.TagName()
			if atom.Lookup(tn) == atom.Style {
				inStyle = false
			}

		case html.TextToken:
			if inStyle {
				out.WriteString(rewriteCSS(name, string(tokenizer.Raw()), renames))
				continue
			}
			out.Write(tokenizer.Raw())

		default:
			out.Write(tokenizer.Raw())
		}
	}
}

// rewriteTag rewrites the raw text of a single start or self-closing tag.
// Only the byte spans of reference attribute values are replaced, so other
// attributes and character references elsewhere in the tag are kept as is.
// In the package manifest, a tag whose href was renamed also gets its
// media-type updated.
func rewriteTag(name, raw string, renames *RenameMap, manifest bool) string {
	var b strings.Builder
	last := 0
	changed := false
	hasStyle := false
	for _, attr := range tagAttrSpans(raw) {
		switch {
		case attr.key == "style":
			hasStyle = true
		case referenceAttrs[attr.key]:
			newVal, ok := renameRawReference(name, raw[attr.start:attr.end], renames)
			if !ok {
				continue
			}
			b.WriteString(raw[last:attr.start])
			b.WriteString(newVal)
			last = attr.end
			changed = true
		}
	}
	if changed {
		b.WriteString(raw[last:])
		raw = b.String()
	}
	if hasStyle {
		raw = rewriteCSS(name, raw, renames)
	}
	if manifest && changed {
		raw = patchMediaTypes(raw)
	}
	return raw
}

// attrSpan locates one attribute value inside a raw tag.
type attrSpan struct {
	key        string
	start, end int
}

// tagAttrSpans returns the lowercased key and value span of every attribute
// with a value in raw, a start or self-closing tag as returned by
// Tokenizer.Raw.
func tagAttrSpans(raw string) []attrSpan {
	var spans []attrSpan
	i := 1
	for i < len(raw) && !isTagSpace(raw[i]) && raw[i] != '>' && raw[i] != '/' {
		i++
	}
	for i < len(raw) {
		for i < len(raw) && (isTagSpace(raw[i]) || raw[i] == '/') {
			i++
		}
		if i >= len(raw) || raw[i] == '>' {
			break
		}
		keyStart := i
		for i < len(raw) && !isTagSpace(raw[i]) && raw[i] != '=' && raw[i] != '>' && raw[i] != '/' {
			i++
		}
		if i == keyStart {
			i++
			continue
		}
		key := strings.ToLower(raw[keyStart:i])
		for i < len(raw) && isTagSpace(raw[i]) {
			i++
		}
		if i >= len(raw) || raw[i] != '=' {
			continue
		}
		i++
		for i < len(raw) && isTagSpace(raw[i]) {
			i++
		}
		if i < len(raw) && (raw[i] == '"' || raw[i] == '\'') {
			quote := raw[i]
			i++
			valStart := i
			for i < len(raw) && raw[i] != quote {
				i++
			}
			spans = append(spans, attrSpan{key: key, start: valStart, end: i})
			i++
			continue
		}
		valStart := i
		for i < len(raw) && !isTagSpace(raw[i]) && raw[i] != '>' && !strings.HasPrefix(raw[i:], "/>") {
			i++
		}
		spans = append(spans, attrSpan{key: key, start: valStart, end: i})
	}
	return spans
}

func isTagSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// renameRawReference renames a reference as it appears in markup, with
// character references still escaped. Only the final path segment changes;
// the rest of the raw value is kept byte for byte.
func renameRawReference(name, rawVal string, renames *RenameMap) (string, bool) {
	ref := html.UnescapeString(rawVal)
	newRef, ok := renameReference(name, ref, renames)
	if !ok {
		return "", false
	}
	if ref == rawVal {
		return newRef, true
	}
	newPath := newRef
	if i := strings.IndexAny(newRef, "?#"); i >= 0 {
		newPath = newRef[:i]
	}
	newSeg := newPath[strings.LastIndexByte(newPath, '/')+1:]

	rawPath := rawVal[:rawPathEnd(rawVal)]
	segStart := strings.LastIndexByte(rawPath, '/') + 1
	return rawVal[:segStart] + html.EscapeString(newSeg) + rawVal[len(rawPath):], true
}

// rawPathEnd returns the index of the first '?' or '#' in an escaped
// attribute value, ignoring the '#' of numeric character references.
func rawPathEnd(rawVal string) int {
	for i := 0; i < len(rawVal); i++ {
		switch rawVal[i] {
		case '?':
			return i
		case '#':
			if i == 0 || rawVal[i-1] != '&' {
				return i
			}
		}
	}
	return len(rawVal)
}

// rewriteCSS rewrites url(...) references in text, resolved against name.
func rewriteCSS(name, text string, renames *RenameMap) string {
	return cssURLPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		newRef, ok := renameReference(name, sub[2], renames)
		if !ok {
			return match
		}
		return strings.Replace(match, sub[2], newRef, 1)
	})
}

// renameReference resolves ref against the entry name and, if it points at
// a renamed entry, returns ref with its final path segment replaced.
// Query strings and fragments are kept.
func renameReference(name, ref string, renames *RenameMap) (string, bool) {
	resolved := resolveRelativePath(name, ref)
	if resolved == "" {
		return "", false
	}
	newName, ok := renames.Lookup(resolved)
	if !ok {
		return "", false
	}

	pathPart, suffix := ref, ""
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		pathPart, suffix = ref[:i], ref[i:]
	}
	dir, seg := "", pathPart
	if i := strings.LastIndexByte(pathPart, '/'); i >= 0 {
		dir, seg = pathPart[:i+1], pathPart[i+1:]
	}

	newSeg := basename(newName)
	if decoded, err := url.PathUnescape(seg); err == nil && decoded != seg {
		newSeg = url.PathEscape(newSeg)
	}
	return dir + newSeg + suffix, true
}
