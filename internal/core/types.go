package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the processing state of an imported row.
type Status int

const (
	StatusInited     Status = 0
	StatusSkipped    Status = 1
	StatusPending    Status = 2
	StatusProcessing Status = 10
	StatusDone       Status = 100
)

// AllStatuses lists statuses in display order.
var AllStatuses = []Status{StatusInited, StatusSkipped, StatusPending, StatusProcessing, StatusDone}

// String returns the display name used in reports.
func (s Status) String() string {
	switch s {
	case StatusInited:
		return "Not processed"
	case StatusSkipped:
		return "Skipped"
	case StatusPending:
		return "Pending User"
	case StatusProcessing:
		return "Processing"
	case StatusDone:
		return "Processed"
	default:
		return fmt.Sprintf("Unknown (%d)", int(s))
	}
}

// ParseStatus converts a numeric status code.
func ParseStatus(code int) (Status, bool) {
	for _, s := range AllStatuses {
		if int(s) == code {
			return s, true
		}
	}
	return 0, false
}

// IDField is the LMS user attribute a row is matched on.
type IDField string

const (
	IDFieldEmail    IDField = "email"
	IDFieldIDNumber IDField = "idnumber"
	IDFieldUsername IDField = "username"
)

// Valid reports whether f is one of the supported identity attributes.
func (f IDField) Valid() bool {
	switch f {
	case IDFieldEmail, IDFieldIDNumber, IDFieldUsername:
		return true
	}
	return false
}

// HistoryEntry is one line of a row's status history.
type HistoryEntry struct {
	Timestamp int64  `json:"timestamp"`
	Info      string `json:"info"`
}

// NewHistoryEntry stamps info with at.
func NewHistoryEntry(info string, at time.Time) HistoryEntry {
	return HistoryEntry{Timestamp: at.Unix(), Info: info}
}

// History is the append-only status text of a row.
type History []HistoryEntry

// Infos returns the messages without timestamps.
func (h History) Infos() []string {
	out := make([]string, len(h))
	for i, e := range h {
		out[i] = e.Info
	}
	return out
}

// MarshalJSON always emits a list, never null.
func (h History) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]HistoryEntry(h))
}

// ImportRow is the persisted log record of one CSV data line.
type ImportRow struct {
	ID          int64   `json:"id"`
	ImportID    int64   `json:"importid"`
	LineID      int     `json:"lineid"`
	IDField     IDField `json:"idfield"`
	Email       string  `json:"email"`
	IDNumber    string  `json:"idnumber"`
	Username    string  `json:"username"`
	UserID      int64   `json:"userid"`
	Cohort      string  `json:"cohort"`
	CohortID    int64   `json:"cohortid"`
	MainGroup   string  `json:"maingroup"`
	OtherGroups string  `json:"othergroups"`
	GroupsCSV   string  `json:"groupscsv"`
	Status      Status  `json:"status"`
	StatusText  History `json:"statustext"`

	CreatedByID  int64     `json:"createdbyid"`
	CreatedAt    time.Time `json:"timecreated"`
	ModifiedByID int64     `json:"usermodified"`
	ModifiedAt   time.Time `json:"timemodified"`
}

// IDValue returns the identity value the row is matched on.
func (r ImportRow) IDValue() string {
	return r.identity(r.IDField)
}

func (r ImportRow) identity(f IDField) string {
	switch f {
	case IDFieldIDNumber:
		return r.IDNumber
	case IDFieldUsername:
		return r.Username
	default:
		return r.Email
	}
}

func (r *ImportRow) setIdentity(f IDField, value string) {
	switch f {
	case IDFieldIDNumber:
		r.IDNumber = value
	case IDFieldUsername:
		r.Username = value
	default:
		r.Email = value
	}
}

// addHistory appends to the in-memory history of a row that is not yet persisted.
func (r *ImportRow) addHistory(info string, at time.Time) {
	r.StatusText = append(r.StatusText, NewHistoryEntry(info, at))
}

// ImportBatch describes one CSV submission.
type ImportBatch struct {
	ImportID    int64     `json:"importid"`
	ImportName  string    `json:"importname"`
	CreatedByID int64     `json:"createdbyid"`
	CreatedAt   time.Time `json:"timecreated"`
}

// DeferredGroupJoin records a group a user joins once enrolled in the course.
type DeferredGroupJoin struct {
	ID               int64     `json:"id"`
	CourseID         int64     `json:"courseid"`
	UserID           int64     `json:"userid"`
	TargetGroupID    int64     `json:"newgroupid"`
	OriginatingRowID int64     `json:"logid"`
	CreatedByID      int64     `json:"usermodified"`
	CreatedAt        time.Time `json:"timecreated"`
}

// User is the subset of an LMS account the sync needs.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	IDNumber string `json:"idnumber"`
	Username string `json:"username"`
}

// Attribute returns the value of the given identity attribute.
func (u User) Attribute(f IDField) string {
	switch f {
	case IDFieldIDNumber:
		return u.IDNumber
	case IDFieldUsername:
		return u.Username
	default:
		return u.Email
	}
}

// Cohort is a site-wide set of users.
type Cohort struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IDNumber string `json:"idnumber"`
}

// CourseGroup is a group together with the course it lives in.
type CourseGroup struct {
	GroupID    int64  `json:"groupid"`
	GroupName  string `json:"groupname"`
	CourseID   int64  `json:"courseid"`
	CourseName string `json:"coursename"`
}
