// Package decisionlog records permission decisions as tamper-evident JSON
// Lines for later audit.
package decisionlog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aibox/toolperm/internal/permission"
)

// Entry is one logged decision.
type Entry struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Tool          string          `json:"tool"`
	Content       string          `json:"content,omitempty"`
	ReadOnly      bool            `json:"read_only"`
	Mode          permission.Mode `json:"mode"`
	Decision      string          `json:"decision"`
	ReasonType    string          `json:"reason_type,omitempty"`
	Rule          string          `json:"rule,omitempty"`
	RuleSource    string          `json:"rule_source,omitempty"`
	Message       string          `json:"message,omitempty"`
	Suggestions   []string        `json:"suggestions,omitempty"`
	PolicyVersion string          `json:"policy_version,omitempty"`
	DurationMS    float64         `json:"duration_ms"`
	HashPrev      string          `json:"hash_prev"`
}

// NewEntry describes a decision for logging. The ID is assigned here; the
// hash chain link is filled in when the entry is written.
func NewEntry(tool permission.Tool, in permission.Input, d permission.Decision, mode permission.Mode, took time.Duration) Entry {
	e := Entry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Tool:       tool.Name(),
		Content:    tool.Content(in),
		ReadOnly:   tool.IsReadOnly(in),
		Mode:       mode,
		Decision:   string(d.Behavior()),
		DurationMS: float64(took.Microseconds()) / 1000.0,
	}

	if r := permission.ReasonOf(d); r != nil {
		e.ReasonType = r.Type()
		switch r := r.(type) {
		case permission.RuleReason:
			e.Rule = r.Rule.String()
			e.RuleSource = string(r.Rule.Source)
		case permission.OtherReason:
			e.Message = r.Reason
		case permission.PolicyReason:
			e.Message = strings.Join(r.Messages, "; ")
		}
	}

	switch d := d.(type) {
	case permission.Deny:
		e.Message = d.Message
	case permission.Ask:
		e.Message = d.Message
		for _, s := range d.Suggestions {
			e.Suggestions = append(e.Suggestions, s.String())
		}
	}
	return e
}

// Filter selects entries in Search. Zero fields match everything.
type Filter struct {
	Since      time.Time
	Until      time.Time
	Tool       string
	Decision   string
	ReasonType string
	Contains   string // substring of the content
	Limit      int
}

func (f Filter) matches(e Entry) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if f.ReasonType != "" && e.ReasonType != f.ReasonType {
		return false
	}
	if f.Contains != "" && !strings.Contains(e.Content, f.Contains) {
		return false
	}
	return true
}
