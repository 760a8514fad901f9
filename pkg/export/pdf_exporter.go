package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Statement is a printable document made of a key/value summary followed by titled tables.
type Statement struct {
	Title    string
	Summary  []Field
	Sections []Section
	Footer   string
}

// Field is one summary row.
type Field struct {
	Label string
	Value string
}

// Section is a titled table inside a statement.
type Section struct {
	Title string
	Table Table
	// AlignRight marks columns rendered right aligned, typically amounts.
	AlignRight map[int]bool
}

// PDFExporter renders statements with gofpdf.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Write renders the statement as A4 PDF into w.
func (e *PDFExporter) Write(w io.Writer, stmt Statement) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	if stmt.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(stmt.Title), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	pdf.SetFont("Arial", "", 10)
	for _, field := range stmt.Summary {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 6, field.Label, "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, field.Value, "", 1, "", false, 0, "")
	}

	for _, section := range stmt.Sections {
		if len(section.Table.Headers) == 0 {
			continue
		}
		pdf.Ln(5)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, section.Title, "", 1, "", false, 0, "")

		colWidth := 180.0 / float64(len(section.Table.Headers))
		pdf.SetFont("Arial", "B", 9)
		for _, header := range section.Table.Headers {
			pdf.CellFormat(colWidth, 7, header, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		if len(section.Table.Rows) == 0 {
			pdf.CellFormat(colWidth*float64(len(section.Table.Headers)), 7, "none", "1", 1, "C", false, 0, "")
			continue
		}
		for _, row := range section.Table.Rows {
			for i := range section.Table.Headers {
				value := ""
				if i < len(row) {
					value = row[i]
				}
				align := "L"
				if section.AlignRight[i] {
					align = "R"
				}
				pdf.CellFormat(colWidth, 7, value, "1", 0, align, false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	if stmt.Footer != "" {
		pdf.Ln(8)
		pdf.SetFont("Arial", "I", 8)
		pdf.MultiCell(0, 5, stmt.Footer, "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}
