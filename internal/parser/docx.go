package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// parseDOCX returns the paragraph text of a Word document, one paragraph per line.
func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	return docxText(r.Editable().GetContent())
}

// docxText pulls the visible text out of WordprocessingML. Table cells are
// separated with " | " so rows stay on one line.
func docxText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		b      strings.Builder
		inText bool
		cells  int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			case "tr":
				cells = 0
			case "tc":
				if cells > 0 {
					b.WriteString(" | ")
				}
				cells++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if cells == 0 {
					b.WriteByte('\n')
				}
			case "tr":
				b.WriteByte('\n')
				cells = 0
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return collapseBlankLines(b.String()), nil
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.Join(out, "\n")
}
