package epubjpeg

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// opfPackage is the subset of the OPF <package> element the inspector needs.
type opfPackage struct {
	XMLName  xml.Name `xml:"package"`
	Version  string   `xml:"version,attr"`
	Titles   []string `xml:"metadata>title"`
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
}

// ManifestItem is a manifest <item> with its href resolved to an entry name.
type ManifestItem struct {
	ID        string
	Href      string
	Entry     string
	MediaType string
}

// readPackage reads and parses the OPF at opfPath.
func readPackage(zr *zip.Reader, opfPath string) (*opfPackage, error) {
	f := findFileInsensitive(zr, opfPath)
	if f == nil {
		return nil, fmt.Errorf("epubjpeg: OPF %s: %w", opfPath, ErrFileNotFound)
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	data = stripBOM(preprocessHTMLEntities(data))

	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("epubjpeg: parse OPF: %w", err)
	}
	if pkg.Version == "" {
		pkg.Version = "2.0"
	}
	return &pkg, nil
}

// manifestItems resolves every manifest href against the OPF location.
// Items whose href escapes the archive root keep an empty Entry.
func (p *opfPackage) manifestItems(opfPath string) []ManifestItem {
	items := make([]ManifestItem, 0, len(p.Manifest))
	for _, it := range p.Manifest {
		items = append(items, ManifestItem{
			ID:        it.ID,
			Href:      it.Href,
			Entry:     resolveRelativePath(opfPath, it.Href),
			MediaType: strings.TrimSpace(it.MediaType),
		})
	}
	return items
}

// imageMediaTypes maps image extensions to their canonical media type.
var imageMediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// entityNameToNumeric maps lowercase HTML entity names to their XML numeric
// character references. encoding/xml does not recognise HTML named entities,
// so they are converted before parsing OPF files.
var entityNameToNumeric = map[string][]byte{
	"nbsp": []byte("&#160;"), "mdash": []byte("&#8212;"), "ndash": []byte("&#8211;"),
	"hellip": []byte("&#8230;"),
	"lsquo":  []byte("&#8216;"), "rsquo": []byte("&#8217;"),
	"ldquo": []byte("&#8220;"), "rdquo": []byte("&#8221;"),
	"copy": []byte("&#169;"), "reg": []byte("&#174;"), "trade": []byte("&#8482;"),
	"eacute": []byte("&#233;"), "egrave": []byte("&#232;"),
	"auml": []byte("&#228;"), "ouml": []byte("&#246;"), "uuml": []byte("&#252;"),
}

var htmlEntityPattern = regexp.MustCompile(
	`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|eacute|egrave|auml|ouml|uuml);`)

// preprocessHTMLEntities replaces common HTML named entities with numeric
// character references so that encoding/xml can parse the data.
func preprocessHTMLEntities(data []byte) []byte {
	return htmlEntityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.ToLower(string(match[1 : len(match)-1]))
		if replacement, ok := entityNameToNumeric[name]; ok {
			return replacement
		}
		return match
	})
}
