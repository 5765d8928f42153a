package domain

import "time"

// ActionKind enumerates tracked user actions.
type ActionKind string

const (
	ActionClick            ActionKind = "click"
	ActionNavigation       ActionKind = "navigation"
	ActionFormSubmit       ActionKind = "form_submit"
	ActionAPICall          ActionKind = "api_call"
	ActionError            ActionKind = "error"
	ActionPermissionChange ActionKind = "permission_change"
	ActionAuth             ActionKind = "auth"
	ActionOther            ActionKind = "other"
)

// UIElement describes the interface element an action touched.
type UIElement struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// EntityRef points at the business entity an action concerned.
type EntityRef struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

// ActivityRecord captures a single tracked user action. Records are immutable
// once created; only the retention job may later demote the tier.
type ActivityRecord struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Actor         Actor             `json:"actor"`
	ActionKind    ActionKind        `json:"action_kind"`
	Route         string            `json:"route,omitempty"`
	PreviousRoute string            `json:"previous_route,omitempty"`
	Element       *UIElement        `json:"element,omitempty"`
	Entity        *EntityRef        `json:"entity,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Category      Category          `json:"category"`
	SessionID     string            `json:"session_id,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	ErrorStack    string            `json:"error_stack,omitempty"`
	RetentionTier RetentionTier     `json:"retention_tier"`
}

// Kind reports the record discriminant.
func (r ActivityRecord) Kind() RecordKind { return KindActivity }

// RecordedAt reports the creation timestamp.
func (r ActivityRecord) RecordedAt() time.Time { return r.Timestamp }
