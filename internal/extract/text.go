package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

func plainText(r io.Reader) (Document, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Document{}, err
	}
	if !utf8.Valid(b) {
		return Document{}, fmt.Errorf("text is not valid UTF-8")
	}
	return Document{Text: strings.ReplaceAll(string(b), "\r\n", "\n")}, nil
}

// csvText renders each row as "header: value" lines so column meaning
// survives chunking.
func csvText(r io.Reader) (Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Document{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Document{}, nil
	}

	headers := records[0]
	rows := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		var b strings.Builder
		for j, cell := range row {
			if cell == "" {
				continue
			}
			name := fmt.Sprintf("column %d", j+1)
			if j < len(headers) && headers[j] != "" {
				name = headers[j]
			}
			fmt.Fprintf(&b, "%s: %s\n", name, cell)
		}
		rows = append(rows, b.String())
	}
	return Document{Text: joinParagraphs(rows)}, nil
}
