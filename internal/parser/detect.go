package parser

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
)

// Format is a document container format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Detect determines the format from the file extension, then from the content.
func Detect(filename string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".html", ".htm":
		return FormatHTML
	case ".md", ".markdown":
		return FormatMarkdown
	case ".txt":
		return FormatText
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return FormatDOCX
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	content := strings.TrimSpace(string(head))
	if looksLikeHTML(content) {
		return FormatHTML
	}
	if hasMarkdownPatterns(content) {
		return FormatMarkdown
	}
	return FormatText
}

// IsMarkdownContentType checks if the Content-Type header indicates markdown.
func IsMarkdownContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/markdown") ||
		strings.HasPrefix(ct, "text/x-markdown")
}

// ExtensionFor returns a file extension for a Content-Type, or "" when unknown.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "application/pdf"):
		return ".pdf"
	case strings.Contains(ct, "wordprocessingml"):
		return ".docx"
	case strings.HasPrefix(ct, "text/html"):
		return ".html"
	case IsMarkdownContentType(ct):
		return ".md"
	case strings.HasPrefix(ct, "text/"):
		return ".txt"
	}
	return ""
}

// looksLikeHTML checks if content appears to be HTML.
func looksLikeHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.HasPrefix(lower, "<!doctype") ||
		strings.HasPrefix(lower, "<html") ||
		strings.HasPrefix(lower, "<head") ||
		strings.HasPrefix(lower, "<body")
}

var (
	mdHeader = regexp.MustCompile(`^#{1,6}\s+\S`)
	mdList   = regexp.MustCompile(`(?m)^[\-\*]\s+\S`)
	mdLink   = regexp.MustCompile(`\[.+?\]\(.+?\)`)
)

// hasMarkdownPatterns checks for common markdown syntax.
func hasMarkdownPatterns(content string) bool {
	return mdHeader.MatchString(content) ||
		mdList.MatchString(content) ||
		mdLink.MatchString(content)
}
