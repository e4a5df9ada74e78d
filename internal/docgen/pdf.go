// Package docgen is the built-in document-population adapter: it renders a
// settlement-instruction PDF from a resolved variable map. Production
// deployments that fill real bank template files replace this with their own
// populator; the engine only sees the interface.
package docgen

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFPopulator renders a minimal settlement-instruction PDF.
type PDFPopulator struct{}

// NewPDFPopulator creates the built-in PDF populator.
func NewPDFPopulator() *PDFPopulator {
	return &PDFPopulator{}
}

// Populate renders the variable map into a one-page PDF headed by the
// template reference. Variables print in sorted key order so output is
// byte-stable for identical input.
func (p *PDFPopulator) Populate(ctx context.Context, templateRef string, vars map[string]string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	// Pin the metadata timestamp so identical input yields identical bytes.
	pdf.SetCreationDate(time.Unix(0, 0).UTC())
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Settlement Instruction")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Template: %s", templateRef))
	pdf.Ln(8)

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Field", "1", 0, "L", false, 0, "")
	pdf.CellFormat(120, 6, "Value", "1", 0, "L", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, k := range keys {
		pdf.CellFormat(60, 6, k, "1", 0, "L", false, 0, "")
		pdf.CellFormat(120, 6, vars[k], "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("docgen: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
