// Package diag carries health reports built from cached driver state.
// Severity only ever escalates within one report (OK -> WARN -> ERROR).
package diag

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Severity int

const (
	OK Severity = iota
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case OK:
		return "OK"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// KV is one named diagnostic value.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Status is a single named report: a severity summary plus key/value detail.
type Status struct {
	Name    string   `json:"name"`
	Level   Severity `json:"level"`
	Message string   `json:"message"`
	Values  []KV     `json:"values,omitempty"`
}

// Summary sets the severity and message outright.
func (s *Status) Summary(level Severity, message string) {
	s.Level = level
	s.Message = message
}

// MergeSummary escalates the severity monotonically and appends the message.
// A merge can never lower the level.
func (s *Status) MergeSummary(level Severity, message string) {
	if level > s.Level {
		s.Level = level
	}
	if message == "" {
		return
	}
	if s.Message == "" {
		s.Message = message
	} else {
		s.Message += "; " + message
	}
}

func (s *Status) MergeSummaryf(level Severity, format string, args ...interface{}) {
	s.MergeSummary(level, fmt.Sprintf(format, args...))
}

func (s *Status) Add(key, value string) {
	s.Values = append(s.Values, KV{Key: key, Value: value})
}

func (s *Status) Addf(key, format string, args ...interface{}) {
	s.Add(key, fmt.Sprintf(format, args...))
}

func (s *Status) AddBool(key string, v bool) {
	s.Add(key, fmt.Sprintf("%t", v))
}

// Report bundles the statuses of one diagnostics period.
type Report struct {
	ID         uuid.UUID `json:"id"`
	HardwareID string    `json:"hardware_id"`
	Timestamp  time.Time `json:"timestamp"`
	Statuses   []Status  `json:"statuses"`
}
