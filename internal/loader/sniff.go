package loader

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxTitleScan bounds how far into an HTML document the title is looked for.
const maxTitleScan = 1 << 20

// documentTypes covers extensions that system MIME tables often lack.
var documentTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".json": "application/json",
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".rtf":  "application/rtf",
}

func typeByExtension(ext string) string {
	ext = strings.ToLower(ext)
	if t, ok := documentTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

func pdfPages(r io.ReaderAt, size int64) (pages int, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reading pdf: %v", p)
		}
	}()
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("open PDF: %w", err)
	}
	return doc.NumPage(), nil
}

// htmlTitle returns the text of the first <title> element, or "".
func htmlTitle(r io.Reader) string {
	z := html.NewTokenizer(io.LimitReader(r, maxTitleScan))
	inTitle := false
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Title {
				inTitle = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if inTitle && atom.Lookup(name) == atom.Title {
				return strings.Join(strings.Fields(sb.String()), " ")
			}
		case html.TextToken:
			if inTitle {
				sb.Write(z.Text())
			}
		}
	}
}
