package domain

import "time"

// RecordKind discriminates telemetry record types for queueing and storage dispatch.
type RecordKind string

const (
	KindActivity RecordKind = "activity"
	KindAPICall  RecordKind = "api_call"
	KindHealth   RecordKind = "health"
	KindCrash    RecordKind = "crash"
)

// Category classifies the operational weight of a record.
type Category string

const (
	CategoryCritical Category = "critical"
	CategoryActivity Category = "activity"
	CategorySystem   Category = "system"
)

// RetentionTier tags a record for the out-of-band retention job.
type RetentionTier string

const (
	TierHot  RetentionTier = "hot"
	TierWarm RetentionTier = "warm"
	TierCold RetentionTier = "cold"
)

// Actor identifies the user behind a record. All fields are optional;
// anonymous traffic produces a zero Actor.
type Actor struct {
	UserID      string `json:"user_id,omitempty"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Record is implemented by every telemetry record type.
type Record interface {
	Kind() RecordKind
	RecordedAt() time.Time
}
