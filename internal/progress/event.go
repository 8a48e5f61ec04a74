package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageScanStart    Stage = "SCAN_START"
	StageScanProgress Stage = "SCAN_PROGRESS"
	StageScanDone     Stage = "SCAN_DONE"
	StageScanError    Stage = "SCAN_ERROR"
	StagePageFetched  Stage = "PAGE_FETCHED"
	StagePageFailed   Stage = "PAGE_FAILED"
	StagePageSkipped  Stage = "PAGE_SKIPPED"
	StageAlert        Stage = "ALERT"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single scan milestone or alert.
type Event struct {
	// ScanID identifies the scan; alerts raised outside a scan may leave it empty.
	ScanID       string        `json:"scan_id,omitempty"`
	CompetitorID string        `json:"competitor_id,omitempty"`
	TS           time.Time     `json:"ts"`
	Stage        Stage         `json:"stage"`
	Site         string        `json:"site,omitempty"`
	URL          string        `json:"url,omitempty"`
	Bytes        int64         `json:"bytes,omitempty"`
	StatusClass  StatusClass   `json:"status_class,omitempty"`
	Dur          time.Duration `json:"dur,omitempty"`
	// Percent and PagesCrawled describe scan progress.
	Percent      int `json:"percent,omitempty"`
	PagesCrawled int `json:"pages_crawled,omitempty"`
	// AlertType, Severity and Title describe an ALERT event.
	AlertType string `json:"alert_type,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Title     string `json:"title,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageScanStart, StageScanDone, StageScanError:
		if e.ScanID == "" {
			return errors.New("scan events require scan id")
		}
	case StageScanProgress:
		if e.ScanID == "" {
			return errors.New("scan events require scan id")
		}
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %d out of range", e.Percent)
		}
	case StagePageFetched, StagePageFailed, StagePageSkipped:
		if e.Site == "" {
			return errors.New("page events require site")
		}
	case StageAlert:
		if e.AlertType == "" {
			return errors.New("alert events require alert type")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// PublishAttributes exposes routing attributes for message brokers.
func (e Event) PublishAttributes() map[string]string {
	attrs := map[string]string{"stage": string(e.Stage)}
	if e.ScanID != "" {
		attrs["scan_id"] = e.ScanID
	}
	if e.CompetitorID != "" {
		attrs["competitor_id"] = e.CompetitorID
	}
	if e.Severity != "" {
		attrs["severity"] = e.Severity
	}
	return attrs
}
