package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		mime, name string
		want       Kind
	}{
		{"image/png", "dpi.png", KindImage},
		{"image/jpeg; charset=binary", "selfie", KindImage},
		{"application/pdf", "recibo.pdf", KindPDF},
		{"application/octet-stream", "constancia.pdf", KindPDF},
		{"", "estado.xlsx", KindSheet},
		{"text/plain", "nota", KindPlain},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "x", KindWord},
		{"application/zip", "docs.zip", KindOther},
	}
	for _, tt := range tests {
		if got := KindOf(tt.mime, tt.name); got != tt.want {
			t.Errorf("KindOf(%q, %q) = %s, want %s", tt.mime, tt.name, got, tt.want)
		}
	}
}

func TestForMIME_plain(t *testing.T) {
	e := NewExtractor(0)
	got, err := e.ForMIME([]byte("Ingresos mensuales: Q8,000"), "text/plain", "ingresos.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Ingresos mensuales: Q8,000" {
		t.Errorf("got %q", got)
	}
}

func TestForMIME_imageHasNoText(t *testing.T) {
	e := NewExtractor(0)
	if _, err := e.ForMIME([]byte{0x89, 'P', 'N', 'G'}, "image/png", "dpi.png"); !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", err)
	}
}

func TestForMIME_clipsLongText(t *testing.T) {
	e := NewExtractor(5)
	got, err := e.ForMIME([]byte("añoañoaño"), "text/plain", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "añoañ…" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor(0)
	got, err := e.ExtractBytes([]byte("hola\x80mundo"), ".txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "hola�mundo" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_unknownExtension(t *testing.T) {
	e := NewExtractor(0)
	got, err := e.ExtractBytes([]byte("raw content"), ".xyz")
	if err != nil {
		t.Fatal(err)
	}
	if got != "raw content" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Mes")
	f.SetCellValue("Sheet1", "B1", "Saldo")
	f.SetCellValue("Sheet1", "A2", "Enero")
	f.SetCellValue("Sheet1", "B2", "1200")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	got, err := NewExtractor(0).ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "# Sheet1") || !strings.Contains(got, "Enero\t1200") {
		t.Errorf("got %q", got)
	}
}

func docxZip(t *testing.T, contentTypes, bodyPath, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	if contentTypes != "" {
		ct, _ := w.Create(ooxmlContentType)
		_, _ = ct.Write([]byte(contentTypes))
	}
	fw, _ := w.Create(bodyPath)
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r><w:r><w:t>fin</w:t></w:r></w:p></w:body></w:document>`))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractBytes_docx(t *testing.T) {
	tests := []struct {
		name         string
		contentTypes string
		bodyPath     string
	}{
		{"default body", "", docxDefaultBody},
		{
			"declared body",
			`<Types><Override PartName="/word/document2.xml" ContentType="` + docxBodyType + `"/></Types>`,
			"word/document2.xml",
		},
		{
			"reversed attributes",
			`<Types><Override ContentType="` + docxBodyType + `" PartName="/word/document3.xml"/></Types>`,
			"word/document3.xml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := docxZip(t, tt.contentTypes, tt.bodyPath, " Constancia laboral ")
			got, err := NewExtractor(0).ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatal(err)
			}
			if got != "Constancia laboral fin" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_docxNotZip(t *testing.T) {
	if _, err := NewExtractor(0).ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error")
	}
}

func TestExtractBytes_pdfInvalid(t *testing.T) {
	if _, err := NewExtractor(0).ExtractBytes([]byte("%PDF-broken"), ".pdf"); err == nil {
		t.Error("expected error for malformed PDF")
	}
}
