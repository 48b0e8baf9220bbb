package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// ErrNotFound is returned when a catalog record does not exist.
var ErrNotFound = errors.New("record not found")

// labelExpr is the text a cohort or group is matched on: the idnumber, or
// the name when the idnumber is blank.
const labelExpr = `CASE WHEN %[1]s.idnumber <> '' THEN %[1]s.idnumber ELSE %[1]s.name END`

func label(alias string) string {
	return fmt.Sprintf(labelExpr, alias)
}

// cohortSyncCond restricts alias.courseid to courses enrolling the cohort
// bound to $1 through an enabled cohort sync instance.
func cohortSyncCond(alias string) string {
	return `EXISTS (
		SELECT 1 FROM lms_enrol e
		WHERE e.enrol = 'cohort' AND e.status = 0
		  AND e.customint1 = $1 AND e.courseid = ` + alias + `.courseid)`
}

// Directory implements core.Directory over the LMS catalog tables.
type Directory struct {
	db DBTX
}

var _ core.Directory = (*Directory)(nil)

// NewDirectory creates a Directory.
func NewDirectory(db DBTX) *Directory {
	return &Directory{db: db}
}

var userColumns = map[core.IDField]string{
	core.IDFieldEmail:    "email",
	core.IDFieldIDNumber: "idnumber",
	core.IDFieldUsername: "username",
}

func (d *Directory) FindUserID(ctx context.Context, field core.IDField, value string) (int64, bool, error) {
	col, ok := userColumns[field]
	if !ok {
		return 0, false, fmt.Errorf("unsupported identity field %q", field)
	}
	if value == "" {
		return 0, false, nil
	}

	query := `SELECT id FROM lms_user WHERE deleted = FALSE AND ` + col + ` = $1 ORDER BY id LIMIT 1`
	return scanID(d.db.QueryRow(ctx, query, value), "find user")
}

func (d *Directory) GetUser(ctx context.Context, userID int64) (core.User, error) {
	var u core.User
	err := d.db.QueryRow(ctx,
		`SELECT id, email, idnumber, username FROM lms_user WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Email, &u.IDNumber, &u.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return u, fmt.Errorf("get user %d: %w", userID, err)
	}
	return u, nil
}

func (d *Directory) FindCohortID(ctx context.Context, cohortLabel string) (int64, bool, error) {
	query := `SELECT c.id FROM lms_cohort c WHERE ` + label("c") + ` = $1 ORDER BY c.id LIMIT 1`
	return scanID(d.db.QueryRow(ctx, query, cohortLabel), "find cohort")
}

func (d *Directory) GetCohort(ctx context.Context, cohortID int64) (core.Cohort, error) {
	var c core.Cohort
	err := d.db.QueryRow(ctx,
		`SELECT id, name, idnumber FROM lms_cohort WHERE id = $1`, cohortID,
	).Scan(&c.ID, &c.Name, &c.IDNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, fmt.Errorf("cohort %d: %w", cohortID, ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("get cohort %d: %w", cohortID, err)
	}
	return c, nil
}

func (d *Directory) AddCohortMember(ctx context.Context, cohortID, userID int64) (bool, error) {
	tag, err := d.db.Exec(ctx,
		`INSERT INTO lms_cohort_members (cohortid, userid) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		cohortID, userID)
	if err != nil {
		return false, fmt.Errorf("add user %d to cohort %d: %w", userID, cohortID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (d *Directory) RemoveCohortMember(ctx context.Context, cohortID, userID int64) error {
	_, err := d.db.Exec(ctx,
		`DELETE FROM lms_cohort_members WHERE cohortid = $1 AND userid = $2`, cohortID, userID)
	if err != nil {
		return fmt.Errorf("remove user %d from cohort %d: %w", userID, cohortID, err)
	}
	return nil
}

func (d *Directory) ListUserCohorts(ctx context.Context, userID int64) ([]core.Cohort, error) {
	rows, err := d.db.Query(ctx, `
		SELECT c.id, c.name, c.idnumber
		FROM lms_cohort_members m
		JOIN lms_cohort c ON c.id = m.cohortid
		WHERE m.userid = $1
		ORDER BY c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cohorts of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Cohort, error) {
		var c core.Cohort
		err := row.Scan(&c.ID, &c.Name, &c.IDNumber)
		return c, err
	})
}

func (d *Directory) GroupExists(ctx context.Context, token string) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (SELECT 1 FROM lms_groups g WHERE ` + label("g") + ` = $1)`
	if err := d.db.QueryRow(ctx, query, token).Scan(&ok); err != nil {
		return false, fmt.Errorf("find group %q: %w", token, err)
	}
	return ok, nil
}

func (d *Directory) CohortSyncHasGroup(ctx context.Context, cohortID int64, token string) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (SELECT 1 FROM lms_groups g WHERE ` + label("g") + ` = $2 AND ` + cohortSyncCond("g") + `)`
	if err := d.db.QueryRow(ctx, query, cohortID, token).Scan(&ok); err != nil {
		return false, fmt.Errorf("find group %q in cohort %d sync: %w", token, cohortID, err)
	}
	return ok, nil
}

const courseGroupColumns = `g.id, g.name, co.id, co.fullname`

func collectCourseGroups(rows pgx.Rows) ([]core.CourseGroup, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.CourseGroup, error) {
		var cg core.CourseGroup
		err := row.Scan(&cg.GroupID, &cg.GroupName, &cg.CourseID, &cg.CourseName)
		return cg, err
	})
}

func (d *Directory) FindSyncedGroups(ctx context.Context, cohortID int64, tokens []string) ([]core.CourseGroup, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + courseGroupColumns + `
		FROM unnest($2::text[]) WITH ORDINALITY AS t(token, ord)
		JOIN lms_groups g ON ` + label("g") + ` = t.token
		JOIN lms_course co ON co.id = g.courseid
		WHERE ` + cohortSyncCond("g") + `
		ORDER BY t.ord, co.id, g.id`
	rows, err := d.db.Query(ctx, query, cohortID, tokens)
	if err != nil {
		return nil, fmt.Errorf("find synced groups of cohort %d: %w", cohortID, err)
	}
	return collectCourseGroups(rows)
}

func (d *Directory) ListUserGroups(ctx context.Context, userID int64, courseIDs []int64) ([]core.CourseGroup, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	rows, err := d.db.Query(ctx, `
		SELECT `+courseGroupColumns+`
		FROM lms_groups_members m
		JOIN lms_groups g ON g.id = m.groupid
		JOIN lms_course co ON co.id = g.courseid
		WHERE m.userid = $1 AND g.courseid = ANY($2::bigint[])
		ORDER BY co.id, g.id`, userID, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("list groups of user %d: %w", userID, err)
	}
	return collectCourseGroups(rows)
}

func (d *Directory) GetCourseGroup(ctx context.Context, courseID, groupID int64) (core.CourseGroup, error) {
	var cg core.CourseGroup
	err := d.db.QueryRow(ctx, `
		SELECT `+courseGroupColumns+`
		FROM lms_groups g
		JOIN lms_course co ON co.id = g.courseid
		WHERE g.id = $1 AND co.id = $2`, groupID, courseID,
	).Scan(&cg.GroupID, &cg.GroupName, &cg.CourseID, &cg.CourseName)
	if errors.Is(err, pgx.ErrNoRows) {
		return cg, fmt.Errorf("group %d in course %d: %w", groupID, courseID, ErrNotFound)
	}
	if err != nil {
		return cg, fmt.Errorf("get group %d: %w", groupID, err)
	}
	return cg, nil
}

func (d *Directory) IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error) {
	var ok bool
	err := d.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM lms_user_enrolments ue
			JOIN lms_enrol e ON e.id = ue.enrolid
			WHERE e.courseid = $1 AND ue.userid = $2
		)`, courseID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check enrolment of user %d in course %d: %w", userID, courseID, err)
	}
	return ok, nil
}

func (d *Directory) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := d.db.Exec(ctx,
		`INSERT INTO lms_groups_members (groupid, userid) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		groupID, userID)
	if err != nil {
		return fmt.Errorf("add user %d to group %d: %w", userID, groupID, err)
	}
	return nil
}

func (d *Directory) RemoveGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := d.db.Exec(ctx,
		`DELETE FROM lms_groups_members WHERE groupid = $1 AND userid = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove user %d from group %d: %w", userID, groupID, err)
	}
	return nil
}

func scanID(row pgx.Row, op string) (int64, bool, error) {
	var id int64
	err := row.Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return id, true, nil
}
