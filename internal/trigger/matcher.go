package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ConditionConfig is the filter set of an email-received condition block.
// All filters are optional and ANDed; an empty config matches every event.
// Filters are substring/equality checks, never regexes.
type ConditionConfig struct {
	// SenderEmail is a case-insensitive substring match against the
	// event's from address.
	SenderEmail string `json:"senderEmail,omitempty"`

	// SubjectContains is a case-insensitive substring match against
	// the subject.
	SubjectContains string `json:"subjectContains,omitempty"`

	// HasAttachment, when set, requires the event's attachment flag to
	// equal it. Unset means no requirement.
	HasAttachment *bool `json:"hasAttachment,omitempty"`
}

// ParseConditionConfig decodes a condition block's stored config JSON. An
// empty document yields the match-all config.
func ParseConditionConfig(configJSON string) (ConditionConfig, error) {
	var cfg ConditionConfig
	if strings.TrimSpace(configJSON) == "" {
		return cfg, nil
	}

	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return ConditionConfig{}, fmt.Errorf(
			"parse condition config: %w", err,
		)
	}

	return cfg, nil
}

// Matches evaluates the configured filters against an event.
func (c ConditionConfig) Matches(event Event) bool {
	if c.SenderEmail != "" {
		if !strings.Contains(
			strings.ToLower(event.From),
			strings.ToLower(c.SenderEmail),
		) {

			return false
		}
	}

	if c.SubjectContains != "" {
		if !strings.Contains(
			strings.ToLower(event.Subject),
			strings.ToLower(c.SubjectContains),
		) {

			return false
		}
	}

	if c.HasAttachment != nil {
		if event.HasAttachment != *c.HasAttachment {
			return false
		}
	}

	return true
}
