package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus represents the generation state of a batch.
type BatchStatus string

const (
	BatchStatusGenerating BatchStatus = "generating"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusGenerating, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// Strategy names the execution path chosen for a batch.
type Strategy string

const (
	StrategyInline    Strategy = "inline"
	StrategyOffloaded Strategy = "offloaded"
)

func (s Strategy) String() string { return string(s) }

func (s Strategy) IsValid() bool {
	return s == StrategyInline || s == StrategyOffloaded
}

// Batch is one generation job producing Quantity codes that share a prefix.
type Batch struct {
	ID                  string
	Name                string
	Description         string
	Prefix              string
	CodeLength          int
	Quantity            int
	Status              BatchStatus
	Strategy            Strategy
	GeneratedCount      int
	CreatedBy           string
	ProductType         *string
	DistributionChannel *string
	Cost                *decimal.Decimal
	ExpiresAt           *time.Time
	FailureReason       *string
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Remaining returns how many codes are still to be generated.
func (b *Batch) Remaining() int {
	if b == nil || b.GeneratedCount >= b.Quantity {
		return 0
	}
	return b.Quantity - b.GeneratedCount
}

// CodeLengthTotal is the full length of every code in the batch.
func (b *Batch) CodeLengthTotal() int {
	if b == nil {
		return 0
	}
	return len(b.Prefix) + b.CodeLength
}
