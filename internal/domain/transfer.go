package domain

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Date is a calendar date that renders as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, t.Location())}
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	t, err := time.Parse(DateLayout, string(b))
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// MarshalJSON shadows the promoted time.Time method so JSON carries the date only.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("date must be a JSON string, got %s", s)
	}
	return d.UnmarshalText([]byte(s[1 : len(s)-1]))
}

// DateRange is an inclusive pair of calendar dates.
type DateRange struct {
	Start Date
	End   Date
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s - %s", r.Start, r.End)
}

func (r DateRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// RunState is a step of a transfer invocation.
type RunState string

const (
	StateIdle               RunState = "idle"
	StateResolvingWatermark RunState = "resolving_watermark"
	StateComputingWindow    RunState = "computing_window"
	StateWindowEmpty        RunState = "window_empty"
	StateListing            RunState = "listing"
	StateSelecting          RunState = "selecting"
	StateFetchDecompress    RunState = "fetch_decompress"
	StateUploading          RunState = "uploading"
	StateDone               RunState = "done"
	StateFailed             RunState = "failed"
)

// Trigger records what started an invocation.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerCLI       Trigger = "cli"
)

// FileFailure describes a single file that did not make it to the destination.
type FileFailure struct {
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Summary is the outcome of one transfer invocation.
type Summary struct {
	RunID                  string        `json:"runId"`
	Trigger                Trigger       `json:"trigger"`
	State                  RunState      `json:"state"`
	Success                bool          `json:"success"`
	Message                string        `json:"message"`
	FilesFound             int           `json:"filesFound"`
	FilesUploaded          int           `json:"filesUploaded"`
	FilesFailed            int           `json:"filesFailed"`
	UploadedNames          []string      `json:"uploadedNames"`
	DateRange              *DateRange    `json:"dateRangeUsed,omitempty"`
	ObjectsWithoutDate     int           `json:"objectsWithoutDate"`
	SourceFilesWithoutDate int           `json:"sourceFilesWithoutDate"`
	Failures               []FileFailure `json:"failures,omitempty"`
	StartedAt              time.Time     `json:"startedAt"`
	FinishedAt             time.Time     `json:"finishedAt"`
}

// StatusReport answers "how far behind is the destination".
type StatusReport struct {
	Success              bool      `json:"success"`
	Message              string    `json:"message,omitempty"`
	LastUploadDate       *Date     `json:"lastUploadDate"`
	DaysPending          int       `json:"daysPending"`
	SourceReachable      bool      `json:"sourceReachable"`
	DestinationReachable bool      `json:"destinationReachable"`
	ObjectsWithoutDate   int       `json:"objectsWithoutDate"`
	CheckedAt            time.Time `json:"checkedAt"`
}
