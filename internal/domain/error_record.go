package domain

import (
	"context"
	"errors"
	"net"
	"time"
)

// Category classifies a journaled failure.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryAPI           Category = "api"
	CategoryValidation    Category = "validation"
	CategoryQueueCapacity Category = "queue_capacity"
	CategoryIdempotency   Category = "idempotency"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryNetwork, CategoryAPI, CategoryValidation, CategoryQueueCapacity, CategoryIdempotency,
}

// Terminal reports whether failures of this category must never be retried.
func (c Category) Terminal() bool {
	return c == CategoryValidation || c == CategoryIdempotency
}

// Severity ranks how bad a journaled failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// UserImpact describes what the user experiences because of a failure.
type UserImpact string

const (
	ImpactNone     UserImpact = "none"
	ImpactMinor    UserImpact = "minor"
	ImpactModerate UserImpact = "moderate"
	ImpactSevere   UserImpact = "severe"
)

// ErrorContext records where a failure happened.
type ErrorContext struct {
	Screen      string `json:"screen,omitempty"`
	Action      string `json:"action,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Kind        Kind   `json:"kind,omitempty"`
}

// ErrorRecord is one entry in the error journal.
type ErrorRecord struct {
	ID         string       `json:"id"`
	Timestamp  time.Time    `json:"timestamp"`
	Category   Category     `json:"category"`
	Severity   Severity     `json:"severity"`
	Message    string       `json:"message"`
	Context    ErrorContext `json:"context"`
	Resolved   bool         `json:"resolved"`
	UserImpact UserImpact   `json:"user_impact"`
}

// ErrorStatistics aggregates the journal for the sync status screen.
type ErrorStatistics struct {
	Total      int              `json:"total"`
	Unresolved int              `json:"unresolved"`
	ByCategory map[Category]int `json:"by_category"`
	BySeverity map[Severity]int `json:"by_severity"`
	Recent     []ErrorRecord    `json:"recent"`
}

// ClassifyError maps an error onto the journal taxonomy.
func ClassifyError(err error) Category {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrQueueFull):
		return CategoryQueueCapacity
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPermanent):
		return CategoryValidation
	case errors.Is(err, ErrDuplicate):
		return CategoryIdempotency
	case IsConnectivityError(err), errors.As(err, &netErr):
		return CategoryNetwork
	default:
		return CategoryAPI
	}
}

// IsConnectivityError reports whether err means the device could not reach
// the backend at all, as opposed to the backend rejecting the request.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
