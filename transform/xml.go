package transform

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/danthegoodman1/etlpipe/table"
	"golang.org/x/net/html/charset"
)

// readXML reads each direct child of the document root as a row. The row's attributes and then its
// child elements become columns; a bare row element contributes its own tag and text.
func readXML(name string, r io.Reader) (*table.Table, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	t := table.New()

	var (
		depth   int
		sawRoot bool

		row          table.Row
		rowTag       string
		rowHasFields bool
		rowText      strings.Builder

		field     string
		fieldText strings.Builder
	)

	setCell := func(col, text string) {
		t.AddColumn(col)
		row[col] = textCell(text)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(name, "%s", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				sawRoot = true
			case 2:
				row = make(table.Row)
				rowTag = el.Name.Local
				rowHasFields = false
				rowText.Reset()
				for _, attr := range el.Attr {
					if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
						continue
					}
					setCell(attr.Name.Local, attr.Value)
				}
			case 3:
				field = el.Name.Local
				fieldText.Reset()
				rowHasFields = true
			}
		case xml.CharData:
			switch depth {
			case 2:
				rowText.Write(el)
			case 3:
				fieldText.Write(el)
			}
		case xml.EndElement:
			switch depth {
			case 3:
				setCell(field, strings.TrimSpace(fieldText.String()))
			case 2:
				if !rowHasFields && len(row) == 0 {
					setCell(rowTag, strings.TrimSpace(rowText.String()))
				}
				t.Rows = append(t.Rows, row)
			}
			depth--
		}
	}

	if !sawRoot {
		return nil, malformed(name, "no root element")
	}

	inferNumericColumns(t)
	return t, nil
}
