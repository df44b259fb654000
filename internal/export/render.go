package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
)

// Document is everything a renderer needs to produce one export artifact.
type Document struct {
	BatchID       string
	BatchName     string
	ExportedAt    time.Time
	IncludeStatus bool
	Codes         []domain.Code
}

type Renderer interface {
	Render(w io.Writer, doc Document) error
	ContentType() string
	Extension() string
}

// RendererFor returns the renderer of a supported format.
func RendererFor(format domain.ExportFormat) (Renderer, error) {
	switch format {
	case domain.ExportFormatCSV:
		return csvRenderer{}, nil
	case domain.ExportFormatJSON:
		return jsonRenderer{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", domain.ErrValidation, format)
	}
}

// FileName builds the artifact name, e.g. codes_<batch>_20260102T150405Z.csv.
func FileName(batchID string, exportedAt time.Time, r Renderer) string {
	return fmt.Sprintf("codes_%s_%s.%s", batchID, exportedAt.UTC().Format("20060102T150405Z"), r.Extension())
}

type csvRenderer struct{}

func (csvRenderer) ContentType() string { return "text/csv" }
func (csvRenderer) Extension() string   { return "csv" }

func (csvRenderer) Render(w io.Writer, doc Document) error {
	cw := csv.NewWriter(w)

	header := []string{"Code"}
	if doc.IncludeStatus {
		header = append(header, "Status", "CreatedAt")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, code := range doc.Codes {
		row := []string{code.ID}
		if doc.IncludeStatus {
			row = append(row, code.Status.String(), code.CreatedAt.UTC().Format(time.RFC3339))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

type jsonCode struct {
	Code      string     `json:"code"`
	Status    string     `json:"status,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type jsonDocument struct {
	BatchID    string     `json:"batchId"`
	BatchName  string     `json:"batchName"`
	ExportedAt time.Time  `json:"exportedAt"`
	Codes      []jsonCode `json:"codes"`
}

type jsonRenderer struct{}

func (jsonRenderer) ContentType() string { return "application/json" }
func (jsonRenderer) Extension() string   { return "json" }

func (jsonRenderer) Render(w io.Writer, doc Document) error {
	out := jsonDocument{
		BatchID:    doc.BatchID,
		BatchName:  doc.BatchName,
		ExportedAt: doc.ExportedAt.UTC(),
		Codes:      make([]jsonCode, 0, len(doc.Codes)),
	}
	for _, code := range doc.Codes {
		item := jsonCode{Code: code.ID}
		if doc.IncludeStatus {
			createdAt := code.CreatedAt.UTC()
			item.Status = code.Status.String()
			item.CreatedAt = &createdAt
		}
		out.Codes = append(out.Codes, item)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode json export: %w", err)
	}
	return nil
}
