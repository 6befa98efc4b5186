// Package utils provides utility functions for the application.
package utils

import (
	"github.com/google/uuid"
)

func ToPtr[T any](v T) *T {
	return &v
}

// Truncate cuts s to at most n bytes, marking the cut.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// NewCorrelationID returns a fresh correlation id for jobs and traces.
func NewCorrelationID() string {
	return uuid.New().String()
}
