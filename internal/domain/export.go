package domain

import (
	"fmt"
	"strings"
	"time"
)

// ExportFormat is the serialization used for a code export.
type ExportFormat string

const (
	ExportFormatCSV   ExportFormat = "csv"
	ExportFormatJSON  ExportFormat = "json"
	ExportFormatExcel ExportFormat = "excel"
)

func (f ExportFormat) String() string { return string(f) }

// IsSupported reports whether a renderer exists for the format.
// Excel is a recognised name without a renderer.
func (f ExportFormat) IsSupported() bool {
	return f == ExportFormatCSV || f == ExportFormatJSON
}

func ParseExportFormatFromString(s string) (ExportFormat, error) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsSupported() {
		return "", fmt.Errorf("%w: unsupported export format %q", ErrValidation, s)
	}
	return f, nil
}

// ExportAudit is an append-only record of a produced export artifact.
type ExportAudit struct {
	ID        string
	BatchID   string
	UserID    string
	FileName  string
	Format    ExportFormat
	SizeBytes int64
	CodeCount int
	CreatedAt time.Time
}
