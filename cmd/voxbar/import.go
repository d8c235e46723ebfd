package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// maxImportChars bounds an imported document. The composer trims further to
// its token budget.
const maxImportChars = 20000

// importDocument returns the text of path with whitespace runs collapsed
// per line, cut to maxImportChars runes.
func importDocument(path string) (text string, truncated bool, err error) {
	var raw string
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		raw, err = pdfText(path)
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		if err == nil && !utf8.Valid(data) {
			err = fmt.Errorf("%s is not a UTF-8 text file", path)
		}
		raw = string(data)
	}
	if err != nil {
		return "", false, err
	}

	text = normalizeText(raw)
	if text == "" {
		return "", false, fmt.Errorf("no text found in %s", path)
	}
	if r := []rune(text); len(r) > maxImportChars {
		return string(r[:maxImportChars]), true, nil
	}
	return text, false, nil
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return buf.String(), nil
}

// normalizeText trims each line, collapses inner whitespace and keeps at most
// one blank line between paragraphs.
func normalizeText(s string) string {
	var out []string
	blank := false
	for line := range strings.Lines(s) {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
