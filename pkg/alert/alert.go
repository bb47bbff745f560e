// Package alert defines the emergency-alert value types shared by the
// broker and the client session.
//
// An Alert is immutable once finalized: the broker assigns the id and the
// timestamp at ingestion and never mutates a stored alert afterwards.
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidAlert = errors.New("invalid alert")

// Type classifies an alert for client-side presentation only.
type Type string

const (
	TypeWarning   Type = "warning"
	TypeEmergency Type = "emergency"
	TypeInfo      Type = "info"
)

// ParseType maps a wire string onto the closed type set.
// Unrecognized values are treated as info.
func ParseType(s string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeWarning:
		return TypeWarning
	case TypeEmergency:
		return TypeEmergency
	case TypeInfo:
		return TypeInfo
	default:
		return TypeInfo
	}
}

// Alert is one finalized emergency notification.
type Alert struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON normalizes the type field so that alerts decoded from the
// wire never carry a value outside the closed set.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type raw Alert
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	r.Type = ParseType(string(r.Type))
	*a = Alert(r)
	return nil
}

// Candidate is a producer-supplied alert before the broker finalizes it.
type Candidate struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Validate rejects candidates with an empty title or message.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidAlert)
	}
	if strings.TrimSpace(c.Message) == "" {
		return fmt.Errorf("%w: message must not be empty", ErrInvalidAlert)
	}
	return nil
}
