package core

import (
	"context"
	"time"
)

// UserDirectory resolves LMS accounts.
type UserDirectory interface {
	// FindUserID returns the id of the user whose attribute equals value.
	FindUserID(ctx context.Context, field IDField, value string) (int64, bool, error)
	GetUser(ctx context.Context, userID int64) (User, error)
}

// CohortDirectory resolves cohorts and manages cohort membership.
type CohortDirectory interface {
	// FindCohortID matches label against the idnumber, or the name when the idnumber is blank.
	FindCohortID(ctx context.Context, label string) (int64, bool, error)
	GetCohort(ctx context.Context, cohortID int64) (Cohort, error)
	// AddCohortMember reports whether a membership was created.
	AddCohortMember(ctx context.Context, cohortID, userID int64) (bool, error)
	RemoveCohortMember(ctx context.Context, cohortID, userID int64) error
	ListUserCohorts(ctx context.Context, userID int64) ([]Cohort, error)
}

// GroupDirectory resolves course groups, enrolments and group membership.
// Group tokens match the idnumber, or the name when the idnumber is blank.
type GroupDirectory interface {
	GroupExists(ctx context.Context, token string) (bool, error)
	CohortSyncHasGroup(ctx context.Context, cohortID int64, token string) (bool, error)
	// FindSyncedGroups returns the groups matching tokens in courses that
	// enrol cohortID through an enabled cohort sync instance. Results follow
	// token order and repeat for repeated tokens.
	FindSyncedGroups(ctx context.Context, cohortID int64, tokens []string) ([]CourseGroup, error)
	ListUserGroups(ctx context.Context, userID int64, courseIDs []int64) ([]CourseGroup, error)
	GetCourseGroup(ctx context.Context, courseID, groupID int64) (CourseGroup, error)
	IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error)
	AddGroupMember(ctx context.Context, groupID, userID int64) error
	RemoveGroupMember(ctx context.Context, groupID, userID int64) error
}

// Directory is the full LMS catalog the sync works against.
type Directory interface {
	UserDirectory
	CohortDirectory
	GroupDirectory
}

// RowStore persists import rows and batches.
type RowStore interface {
	NextImportID(ctx context.Context) (int64, error)
	InsertRows(ctx context.Context, rows []ImportRow) error
	CreateBatch(ctx context.Context, batch ImportBatch) error
	GetRow(ctx context.Context, rowID int64) (ImportRow, error)
	// RowsByStatus lists rows of an import in a status; rowID > 0 narrows to one row.
	RowsByStatus(ctx context.Context, importID int64, status Status, rowID int64) ([]ImportRow, error)
	// PendingRowsFor lists PENDING rows whose declared identity matches user.
	PendingRowsFor(ctx context.Context, user User) ([]ImportRow, error)
	AppendHistory(ctx context.Context, rowID int64, entry HistoryEntry, actorID int64) error
	SetStatus(ctx context.Context, rowID int64, status Status, actorID int64) error
	BindUser(ctx context.Context, rowID, userID int64, actorID int64) error
}

// DeferredJoinStore persists group joins waiting for an enrolment.
type DeferredJoinStore interface {
	// AddDeferredJoin reports whether a new record was created.
	AddDeferredJoin(ctx context.Context, join DeferredGroupJoin) (bool, error)
	DeferredJoinsFor(ctx context.Context, userID, courseID int64) ([]DeferredGroupJoin, error)
	DeleteDeferredJoin(ctx context.Context, id int64) error
}

// ReportStore answers the read-side queries over the import log.
type ReportStore interface {
	UnprocessedImports(ctx context.Context) ([]UnprocessedImport, error)
	StatusCounts(ctx context.Context) ([]StatusCount, error)
	LatestRows(ctx context.Context) ([]ImportRow, error)
	Batches(ctx context.Context) ([]ImportBatch, error)
	QueryLog(ctx context.Context, filter LogFilter) ([]ImportRow, int, error)
	PurgeAll(ctx context.Context) (int64, error)
	PurgeAllButLatest(ctx context.Context) (int64, error)
}

// Store groups every persistence port.
type Store interface {
	RowStore
	DeferredJoinStore
	ReportStore
}

// SettingsStore is a flat string key/value store for plugin settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, name, value string) error
}

// Enqueuer places commands on the deferred work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, cmd Command) error
}

// UnprocessedImport is an import that still has INITED rows.
type UnprocessedImport struct {
	ImportID  int64     `json:"importid"`
	CreatedAt time.Time `json:"timecreated"`
}

// StatusCount is the number of rows of an import in one status.
type StatusCount struct {
	ImportID int64
	Status   Status
	Count    int
}
