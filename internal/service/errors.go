package service

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrGenerationFailed wraps every error after which the pipeline has tried
// to mark the batch failed. Callers must not retry such runs.
var ErrGenerationFailed = errors.New("generation failed")

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
