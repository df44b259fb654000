package domain

import (
	"fmt"
	"strings"
	"time"
)

// CodeStatus represents the redemption state of a code.
type CodeStatus string

const (
	CodeStatusAvailable CodeStatus = "available"
	CodeStatusAssigned  CodeStatus = "assigned"
	CodeStatusDisabled  CodeStatus = "disabled"
)

func (s CodeStatus) String() string { return string(s) }

func (s CodeStatus) IsValid() bool {
	switch s {
	case CodeStatusAvailable, CodeStatusAssigned, CodeStatusDisabled:
		return true
	}
	return false
}

func ParseCodeStatusFromString(s string) (CodeStatus, error) {
	st := CodeStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid code status %q", ErrValidation, s)
	}
	return st, nil
}

// Code is one issued code. ID is the code string itself.
type Code struct {
	ID          string
	BatchID     string
	Status      CodeStatus
	AssignedAt  *time.Time
	AssignedTo  *string
	ProductType *string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// CodeCounts aggregates a batch's codes by status.
type CodeCounts struct {
	Available int
	Assigned  int
	Disabled  int
	Total     int
}

// Add records n codes in the given status.
func (c *CodeCounts) Add(status CodeStatus, n int) {
	switch status {
	case CodeStatusAvailable:
		c.Available += n
	case CodeStatusAssigned:
		c.Assigned += n
	case CodeStatusDisabled:
		c.Disabled += n
	}
	c.Total += n
}
