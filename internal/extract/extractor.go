// Package extract pulls readable text out of uploaded documents so it can be
// handed to the document reviewer alongside images.
package extract

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrNoText is returned for formats without a text layer (images, archives, unknown binaries).
var ErrNoText = errors.New("document has no extractable text")

// Kind is the document family a file is read as.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindWord  Kind = "word"
	KindSheet Kind = "sheet"
	KindPlain Kind = "plain"
	KindImage Kind = "image"
	KindOther Kind = "other"
)

var mimeKinds = map[string]Kind{
	"application/pdf": KindPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindWord,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       KindSheet,
	"text/plain":       KindPlain,
	"text/csv":         KindPlain,
	"text/markdown":    KindPlain,
	"application/json": KindPlain,
}

var extKinds = map[string]Kind{
	".pdf":  KindPDF,
	".docx": KindWord,
	".xlsx": KindSheet,
	".txt":  KindPlain,
	".csv":  KindPlain,
	".md":   KindPlain,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".webp": KindImage,
	".gif":  KindImage,
}

// KindOf classifies a file by MIME type, falling back to the name's extension.
func KindOf(mimeType, name string) Kind {
	mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if strings.HasPrefix(mimeType, "image/") {
		return KindImage
	}
	if k, ok := mimeKinds[mimeType]; ok {
		return k
	}
	if k, ok := extKinds[strings.ToLower(filepath.Ext(name))]; ok {
		return k
	}
	return KindOther
}

// Extractor turns document bytes into plain text.
type Extractor struct {
	maxChars int
}

// NewExtractor returns an Extractor. maxChars bounds the returned text in runes; 0 means unbounded.
func NewExtractor(maxChars int) *Extractor {
	return &Extractor{maxChars: maxChars}
}

// ForMIME extracts text from content identified by its MIME type and original file name.
func (e *Extractor) ForMIME(content []byte, mimeType, name string) (string, error) {
	return e.extract(content, KindOf(mimeType, name))
}

// ExtractBytes extracts text based on a file extension including the leading dot.
// Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	k, ok := extKinds[strings.ToLower(ext)]
	if !ok {
		k = KindPlain
	}
	return e.extract(content, k)
}

func (e *Extractor) extract(content []byte, k Kind) (string, error) {
	var (
		text string
		err  error
	)
	switch k {
	case KindPDF:
		text, err = extractPDF(content)
	case KindWord:
		text, err = extractDOCX(content)
	case KindSheet:
		text, err = extractExcel(content)
	case KindPlain:
		text, err = extractPlain(content)
	default:
		return "", ErrNoText
	}
	if err != nil {
		return "", err
	}
	return e.clip(text), nil
}

func (e *Extractor) clip(text string) string {
	if e.maxChars <= 0 || utf8.RuneCountInString(text) <= e.maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:e.maxChars]) + "…"
}
