package pipeline

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────
// Render stage: produce canonical line-numbered text from the formats
// tier-A sources actually publish. XML and HTML render by
// deterministic tag stripping, DOCX through its document.xml, and PDF
// through a minimal text-operator scan that only handles uncompressed
// streams — anything else routes the job to review.
// ──────────────────────────────────────────────────────────────────────

// Render dispatches on content type (or sniffed magic bytes) and
// returns the canonical text plus its line count.
func Render(contentType string, raw []byte) (string, int, error) {
	var text string
	var err error
	switch {
	case strings.Contains(contentType, "xml") || bytes.HasPrefix(raw, []byte("<?xml")):
		text, err = renderXML(raw)
	case strings.Contains(contentType, "html") || bytes.HasPrefix(bytes.TrimSpace(raw), []byte("<!DOCTYPE")) || bytes.HasPrefix(bytes.TrimSpace(raw), []byte("<html")):
		text, err = renderHTML(raw)
	case strings.Contains(contentType, "officedocument.wordprocessingml") || bytes.HasPrefix(raw, []byte("PK\x03\x04")):
		text, err = renderDOCX(raw)
	case strings.Contains(contentType, "pdf") || bytes.HasPrefix(raw, []byte("%PDF")):
		text, err = renderPDF(raw)
	default:
		text = string(raw)
	}
	if err != nil {
		return "", 0, err
	}
	text = canonicalize(text)
	if strings.TrimSpace(text) == "" {
		return "", 0, fmt.Errorf("rendering produced no text")
	}
	return text, strings.Count(text, "\n") + 1, nil
}

// canonicalize collapses intra-line whitespace and trims blank-line
// runs so line numbers are stable across refetches.
func canonicalize(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// renderXML walks the token stream and emits element text, with a
// line break after every closing tag.
func renderXML(raw []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("xml parse: %v", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

var htmlTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)
var htmlBlockPattern = regexp.MustCompile(`(?i)</(p|div|tr|li|h[1-6]|table|section)>|<br\s*/?>`)

func renderHTML(raw []byte) (string, error) {
	s := string(raw)
	s = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`).ReplaceAllString(s, "")
	s = htmlBlockPattern.ReplaceAllString(s, "\n")
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&nbsp;", " ", "&quot;", `"`, "&#39;", "'").Replace(s)
	return s, nil
}

// renderDOCX reads word/document.xml out of the zip container. Each
// paragraph becomes one line.
func renderDOCX(raw []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("docx open: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		docXML, err := io.ReadAll(rc)
		if err != nil {
			return "", err
		}
		// Paragraph closes become newlines before tag stripping.
		s := strings.ReplaceAll(string(docXML), "</w:p>", "\n")
		return htmlTagPattern.ReplaceAllString(s, ""), nil
	}
	return "", fmt.Errorf("docx has no word/document.xml")
}

var pdfTextPattern = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)

// renderPDF extracts literal-string text operators from uncompressed
// content streams. Compressed or image-only PDFs yield an error and
// the job routes to review for an external renderer.
func renderPDF(raw []byte) (string, error) {
	matches := pdfTextPattern.FindAllSubmatch(raw, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("pdf has no extractable text operators")
	}
	var b strings.Builder
	for _, m := range matches {
		s := string(m[1])
		s = strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`).Replace(s)
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
