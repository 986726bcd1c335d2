package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultBody  = "word/document.xml"
	ooxmlContentType = "[Content_Types].xml"
	docxBodyType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// wordText matches <w:t> runs with or without attributes.
var wordText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// overrideTag matches one <Override .../> element; attribute order varies between producers.
var overrideTag = regexp.MustCompile(`<Override\s[^>]*>`)

var (
	partNameAttr    = regexp.MustCompile(`PartName="([^"]+)"`)
	contentTypeAttr = regexp.MustCompile(`ContentType="([^"]+)"`)
)

func readZipEntry(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, err
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		return b, true, err
	}
	return nil, false, nil
}

// docxBodyPath returns the main document part declared in [Content_Types].xml,
// or the conventional path when none is declared.
func docxBodyPath(zr *zip.Reader) string {
	types, ok, err := readZipEntry(zr, ooxmlContentType)
	if !ok || err != nil {
		return docxDefaultBody
	}
	for _, tag := range overrideTag.FindAllString(string(types), -1) {
		ct := contentTypeAttr.FindStringSubmatch(tag)
		if len(ct) < 2 || ct[1] != docxBodyType {
			continue
		}
		if part := partNameAttr.FindStringSubmatch(tag); len(part) > 1 {
			return strings.TrimPrefix(part[1], "/")
		}
	}
	return docxDefaultBody
}

// extractDOCX joins every <w:t> run of the main document part.
// lu4p/cat is not used: it only matches attribute-free <w:p> elements.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	path := docxBodyPath(zr)
	body, ok, err := readZipEntry(zr, path)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", path, err)
	}
	if !ok {
		return "", fmt.Errorf("extract DOCX: %s not found", path)
	}

	runs := wordText.FindAllStringSubmatch(string(body), -1)
	words := make([]string, 0, len(runs))
	for _, r := range runs {
		if t := strings.TrimSpace(r[1]); t != "" {
			words = append(words, t)
		}
	}
	return strings.Join(words, " "), nil
}
