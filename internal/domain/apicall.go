package domain

import "time"

// PerformanceCategory buckets a request by response time.
type PerformanceCategory string

const (
	PerfFast     PerformanceCategory = "fast"     // < 100ms
	PerfNormal   PerformanceCategory = "normal"   // < 500ms
	PerfSlow     PerformanceCategory = "slow"     // < 2000ms
	PerfCritical PerformanceCategory = "critical" // >= 2000ms
)

// APICallRecord captures one completed API request. IsError and
// PerformanceCategory are derived from StatusCode and ResponseTimeMS and must
// never be set independently; use NewAPICallRecord.
type APICallRecord struct {
	ID                  string              `json:"id"`
	Timestamp           time.Time           `json:"timestamp"`
	Method              string              `json:"method"`
	Endpoint            string              `json:"endpoint"`
	Actor               Actor               `json:"actor"`
	RequestBytes        int64               `json:"request_bytes"`
	ResponseBytes       int64               `json:"response_bytes"`
	StatusCode          int                 `json:"status_code"`
	ResponseTimeMS      float64             `json:"response_time_ms"`
	IsError             bool                `json:"is_error"`
	PerformanceCategory PerformanceCategory `json:"performance_category"`
	BandwidthIn         int64               `json:"bandwidth_in"`
	BandwidthOut        int64               `json:"bandwidth_out"`
	Category            Category            `json:"category"`
}

// NewAPICallRecord builds a record with the derived fields populated.
func NewAPICallRecord(id string, at time.Time, method, endpoint string, actor Actor, statusCode int, responseTimeMS float64, bytesIn, bytesOut int64) APICallRecord {
	return APICallRecord{
		ID:                  id,
		Timestamp:           at,
		Method:              method,
		Endpoint:            endpoint,
		Actor:               actor,
		RequestBytes:        bytesIn,
		ResponseBytes:       bytesOut,
		StatusCode:          statusCode,
		ResponseTimeMS:      responseTimeMS,
		IsError:             statusCode >= 400,
		PerformanceCategory: ClassifyResponseTime(responseTimeMS),
		BandwidthIn:         bytesIn,
		BandwidthOut:        bytesOut,
		Category:            CategorySystem,
	}
}

// ClassifyResponseTime maps a latency in milliseconds to its bucket.
func ClassifyResponseTime(ms float64) PerformanceCategory {
	switch {
	case ms < 100:
		return PerfFast
	case ms < 500:
		return PerfNormal
	case ms < 2000:
		return PerfSlow
	default:
		return PerfCritical
	}
}

// Kind reports the record discriminant.
func (r APICallRecord) Kind() RecordKind { return KindAPICall }

// RecordedAt reports the creation timestamp.
func (r APICallRecord) RecordedAt() time.Time { return r.Timestamp }
