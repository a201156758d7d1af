package epubjpeg

import (
	"archive/zip"
	"encoding/xml"
	"strings"
)

// encryptionFilePath is the standard path for the encryption descriptor.
const encryptionFilePath = "META-INF/encryption.xml"

// sinfFilePath is the path that indicates Apple FairPlay DRM.
const sinfFilePath = "META-INF/sinf.xml"

// Font obfuscation algorithm URIs. These do not constitute DRM.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true, // IDPF font obfuscation
	"http://ns.adobe.com/pdf/enc#RC":     true, // Adobe font obfuscation
}

type xmlEncryption struct {
	XMLName       xml.Name           `xml:"encryption"`
	EncryptedData []xmlEncryptedData `xml:"EncryptedData"`
}

type xmlEncryptedData struct {
	EncryptionMethod struct {
		Algorithm string `xml:"Algorithm,attr"`
	} `xml:"EncryptionMethod"`
	CipherReference struct {
		URI string `xml:"URI,attr"`
	} `xml:"CipherData>CipherReference"`
}

// encryptedEntries lists the archive entries named by encryption.xml,
// excluding obfuscated fonts.
type encryptedEntries struct {
	fontObfuscation bool
	entries         []string
}

// checkDRM parses META-INF/encryption.xml (if present) and determines whether
// the ePub is DRM-protected or merely uses font obfuscation.
//
// Returns:
//   - (false, nil)             no encryption.xml, or it lists nothing
//   - (true,  nil)             only font obfuscation entries
//   - (false, ErrDRMProtected) real encryption, or an unreadable descriptor
func checkDRM(zr *zip.Reader) (fontObfuscation bool, err error) {
	enc, err := readEncryption(zr)
	if err != nil {
		return false, err
	}
	if len(enc.entries) > 0 {
		return false, ErrDRMProtected
	}
	return enc.fontObfuscation, nil
}

// readEncryption reads the encryption descriptor. An Apple FairPlay marker or
// an unparsable descriptor is reported as ErrDRMProtected.
func readEncryption(zr *zip.Reader) (encryptedEntries, error) {
	var out encryptedEntries
	if findFileInsensitive(zr, sinfFilePath) != nil {
		return out, ErrDRMProtected
	}

	f := findFileInsensitive(zr, encryptionFilePath)
	if f == nil {
		return out, nil
	}
	data, err := readZipFile(f)
	if err != nil {
		return out, err
	}

	var enc xmlEncryption
	if err := xml.Unmarshal(stripBOM(data), &enc); err != nil {
		return out, ErrDRMProtected
	}
	for _, ed := range enc.EncryptedData {
		if fontObfuscationAlgorithms[strings.TrimSpace(ed.EncryptionMethod.Algorithm)] {
			out.fontObfuscation = true
			continue
		}
		out.entries = append(out.entries, ed.CipherReference.URI)
	}
	return out, nil
}
