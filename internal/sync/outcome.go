package sync

import (
	"errors"
	"time"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// SkipReason explains why a record was left for a later pass.
type SkipReason string

const (
	SkipCategoryUnresolved SkipReason = "category-unresolved"
	SkipPersonUnresolved   SkipReason = "person-unresolved"
	SkipMalformed          SkipReason = "malformed"
)

// OutcomeStatus classifies the handling of one record. The zero value
// means no outcome was recorded.
type OutcomeStatus int

const (
	OutcomeUnknown OutcomeStatus = iota
	OutcomeApplied
	OutcomeSkipped
	OutcomeFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the per-record result of an upload or download step.
// LocalID is empty for downloads skipped before their payload was decoded.
type Outcome struct {
	LocalID  string
	RemoteID string
	Status   OutcomeStatus
	Reason   SkipReason // set when Status is OutcomeSkipped
	Err      error      // set when Status is OutcomeFailed
}

func applied(localID, remoteID string) Outcome {
	return Outcome{LocalID: localID, RemoteID: remoteID, Status: OutcomeApplied}
}

func skipped(localID, remoteID string, reason SkipReason) Outcome {
	return Outcome{LocalID: localID, RemoteID: remoteID, Status: OutcomeSkipped, Reason: reason}
}

func failed(localID, remoteID string, err error) Outcome {
	return Outcome{LocalID: localID, RemoteID: remoteID, Status: OutcomeFailed, Err: err}
}

// UploadReport counts the results of one upload pass.
type UploadReport struct {
	Kind     ledger.Kind
	Tenant   string
	Pending  int // unsynced records found
	Uploaded int
	Skipped  int
	Failed   int
	Batches  int // successful commits
	Outcomes []Outcome
}

func (r *UploadReport) record(o Outcome) {
	switch o.Status {
	case OutcomeApplied:
		r.Uploaded++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}

	r.Outcomes = append(r.Outcomes, o)
}

// docChange is the local effect of applying one downloaded document.
type docChange int

const (
	changeNone docChange = iota
	changeInserted
	changeUpdated
)

// DownloadReport counts the results of one download pass. Unchanged counts
// applied documents that already matched the local record.
type DownloadReport struct {
	Kind         ledger.Kind
	Tenant       string
	Fetched      int
	Inserted     int
	Updated      int
	Unchanged    int
	Skipped      int
	Failed       int
	Watermark    int64 // watermark the query started from
	NewWatermark int64 // watermark persisted after the pass
	Outcomes     []Outcome
}

func (r *DownloadReport) record(o Outcome, change docChange) {
	switch o.Status {
	case OutcomeApplied:
		switch change {
		case changeInserted:
			r.Inserted++
		case changeUpdated:
			r.Updated++
		default:
			r.Unchanged++
		}
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}

	r.Outcomes = append(r.Outcomes, o)
}

// Applied returns the documents applied locally, changed or not.
func (r *DownloadReport) Applied() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// KindReport is the result of one upload-then-download pass for one kind.
type KindReport struct {
	Kind     ledger.Kind
	Upload   *UploadReport   // nil when the upload side did not run
	Download *DownloadReport // nil when the download side did not run
	Duration time.Duration
	Err      error
}

// TenantReport is the result of one coordinator pass for one tenant.
// Kinds lists every kind that ran, in execution order.
type TenantReport struct {
	Tenant   string
	Kinds    []*KindReport
	Duration time.Duration
	Err      error
}

// joinKindErrors collects the errors of every kind.
func joinKindErrors(kinds []*KindReport) error {
	var errs []error

	for _, k := range kinds {
		if k != nil && k.Err != nil {
			errs = append(errs, k.Err)
		}
	}

	return errors.Join(errs...)
}
