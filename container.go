package epubjpeg

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"strings"
)

// containerXML models the META-INF/container.xml file used to locate the OPF.
type containerXML struct {
	XMLName   xml.Name `xml:"container"`
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// containerPath is the well-known location of container.xml in an ePub archive.
const containerPath = "META-INF/container.xml"

// opfMediaType is the media type of the package document in container.xml.
const opfMediaType = "application/oebps-package+xml"

// locatePackage returns the path of the package manifest.
//
// It reads META-INF/container.xml and prefers the rootfile declared with the
// OPF media type. Without container.xml it falls back to the first entry
// ending in ".opf".
func locatePackage(zr *zip.Reader) (string, error) {
	f := findFileInsensitive(zr, containerPath)
	if f == nil {
		for _, f := range zr.File {
			if classify(f.Name) == kindManifest {
				return f.Name, nil
			}
		}
		return "", fmt.Errorf("epubjpeg: no OPF file found in archive: %w", ErrInvalidEPub)
	}

	data, err := readZipFile(f)
	if err != nil {
		return "", fmt.Errorf("epubjpeg: read container.xml: %w", err)
	}
	var c containerXML
	if err := xml.Unmarshal(stripBOM(data), &c); err != nil {
		return "", fmt.Errorf("epubjpeg: parse container.xml: %w", err)
	}

	var fallback string
	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), opfMediaType) {
			return fullPath, nil
		}
		if fallback == "" {
			fallback = fullPath
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("epubjpeg: container.xml has no usable rootfile: %w", ErrInvalidEPub)
	}
	return fallback, nil
}
