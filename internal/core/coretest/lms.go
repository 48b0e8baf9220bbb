// Package coretest provides in-memory implementations of the core ports for
// tests of the core, queue and web packages.
package coretest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// Group is a course group in the fake LMS.
type Group struct {
	ID       int64
	CourseID int64
	Name     string
	IDNumber string
}

// label is what group tokens are matched against.
func (g Group) label() string {
	if g.IDNumber != "" {
		return g.IDNumber
	}
	return g.Name
}

// LMS is an in-memory core.Directory.
type LMS struct {
	mu sync.Mutex

	nextID        int64
	users         map[int64]core.User
	cohorts       map[int64]core.Cohort
	cohortMembers map[int64]map[int64]bool // cohort -> users
	courses       map[int64]string
	groups        map[int64]Group
	groupMembers  map[int64]map[int64]bool // group -> users
	enrolments    map[int64]map[int64]bool // course -> users
	cohortSync    map[int64][]int64        // cohort -> courses

	// AddGroupMemberErr, when set, is returned by AddGroupMember.
	AddGroupMemberErr error
}

var _ core.Directory = (*LMS)(nil)

// NewLMS returns an empty LMS.
func NewLMS() *LMS {
	return &LMS{
		users:         make(map[int64]core.User),
		cohorts:       make(map[int64]core.Cohort),
		cohortMembers: make(map[int64]map[int64]bool),
		courses:       make(map[int64]string),
		groups:        make(map[int64]Group),
		groupMembers:  make(map[int64]map[int64]bool),
		enrolments:    make(map[int64]map[int64]bool),
		cohortSync:    make(map[int64][]int64),
	}
}

func (l *LMS) id() int64 {
	l.nextID++
	return l.nextID
}

// AddUser creates a user and returns its id.
func (l *LMS) AddUser(email, idnumber, username string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.id()
	l.users[id] = core.User{ID: id, Email: email, IDNumber: idnumber, Username: username}
	return id
}

// AddCohort creates a cohort and returns its id.
func (l *LMS) AddCohort(name, idnumber string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.id()
	l.cohorts[id] = core.Cohort{ID: id, Name: name, IDNumber: idnumber}
	return id
}

// AddCourse creates a course and returns its id.
func (l *LMS) AddCourse(name string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.id()
	l.courses[id] = name
	return id
}

// AddGroup creates a group in a course and returns its id.
func (l *LMS) AddGroup(courseID int64, name, idnumber string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.id()
	l.groups[id] = Group{ID: id, CourseID: courseID, Name: name, IDNumber: idnumber}
	return id
}

// SyncCohort adds an enabled cohort sync instance linking cohort to course.
func (l *LMS) SyncCohort(cohortID, courseID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cohortSync[cohortID] = append(l.cohortSync[cohortID], courseID)
}

// Enrol enrols a user in a course.
func (l *LMS) Enrol(courseID, userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set(l.enrolments, courseID, userID)
}

// IsCohortMember reports cohort membership.
func (l *LMS) IsCohortMember(cohortID, userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cohortMembers[cohortID][userID]
}

// IsGroupMember reports group membership.
func (l *LMS) IsGroupMember(groupID, userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.groupMembers[groupID][userID]
}

// UserCohortIDs returns the cohorts the user belongs to, sorted.
func (l *LMS) UserCohortIDs(userID int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []int64
	for cid, members := range l.cohortMembers {
		if members[userID] {
			ids = append(ids, cid)
		}
	}
	sortIDs(ids)
	return ids
}

// UserGroupIDs returns the groups the user belongs to, sorted.
func (l *LMS) UserGroupIDs(userID int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []int64
	for gid, members := range l.groupMembers {
		if members[userID] {
			ids = append(ids, gid)
		}
	}
	sortIDs(ids)
	return ids
}

func (l *LMS) FindUserID(_ context.Context, field core.IDField, value string) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range sortedKeys(l.users) {
		if l.users[id].Attribute(field) == value {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (l *LMS) GetUser(_ context.Context, userID int64) (core.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		return core.User{}, fmt.Errorf("user %d not found", userID)
	}
	return u, nil
}

func (l *LMS) FindCohortID(_ context.Context, label string) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range sortedKeys(l.cohorts) {
		c := l.cohorts[id]
		match := c.IDNumber
		if match == "" {
			match = c.Name
		}
		if match == label {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (l *LMS) GetCohort(_ context.Context, cohortID int64) (core.Cohort, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cohorts[cohortID]
	if !ok {
		return core.Cohort{}, fmt.Errorf("cohort %d not found", cohortID)
	}
	return c, nil
}

func (l *LMS) AddCohortMember(_ context.Context, cohortID, userID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cohortMembers[cohortID][userID] {
		return false, nil
	}
	set(l.cohortMembers, cohortID, userID)
	return true, nil
}

func (l *LMS) RemoveCohortMember(_ context.Context, cohortID, userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cohortMembers[cohortID], userID)
	return nil
}

func (l *LMS) ListUserCohorts(_ context.Context, userID int64) ([]core.Cohort, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.Cohort
	for _, id := range sortedKeys(l.cohorts) {
		if l.cohortMembers[id][userID] {
			out = append(out, l.cohorts[id])
		}
	}
	return out, nil
}

func (l *LMS) GroupExists(_ context.Context, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range l.groups {
		if g.label() == token {
			return true, nil
		}
	}
	return false, nil
}

func (l *LMS) CohortSyncHasGroup(_ context.Context, cohortID int64, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, courseID := range l.cohortSync[cohortID] {
		for _, g := range l.groups {
			if g.CourseID == courseID && g.label() == token {
				return true, nil
			}
		}
	}
	return false, nil
}

func (l *LMS) FindSyncedGroups(_ context.Context, cohortID int64, tokens []string) ([]core.CourseGroup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	courses := append([]int64(nil), l.cohortSync[cohortID]...)
	sortIDs(courses)
	groupIDs := sortedKeys(l.groups)

	var out []core.CourseGroup
	for _, token := range tokens {
		for _, courseID := range courses {
			for _, gid := range groupIDs {
				g := l.groups[gid]
				if g.CourseID == courseID && g.label() == token {
					out = append(out, l.courseGroup(g))
				}
			}
		}
	}
	return out, nil
}

func (l *LMS) ListUserGroups(_ context.Context, userID int64, courseIDs []int64) ([]core.CourseGroup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inCourse := make(map[int64]bool, len(courseIDs))
	for _, id := range courseIDs {
		inCourse[id] = true
	}
	var out []core.CourseGroup
	for _, gid := range sortedKeys(l.groups) {
		g := l.groups[gid]
		if inCourse[g.CourseID] && l.groupMembers[gid][userID] {
			out = append(out, l.courseGroup(g))
		}
	}
	return out, nil
}

func (l *LMS) GetCourseGroup(_ context.Context, courseID, groupID int64) (core.CourseGroup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[groupID]
	if !ok || g.CourseID != courseID {
		return core.CourseGroup{}, fmt.Errorf("group %d not found in course %d", groupID, courseID)
	}
	return l.courseGroup(g), nil
}

func (l *LMS) IsEnrolled(_ context.Context, courseID, userID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enrolments[courseID][userID], nil
}

func (l *LMS) AddGroupMember(_ context.Context, groupID, userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AddGroupMemberErr != nil {
		return l.AddGroupMemberErr
	}
	set(l.groupMembers, groupID, userID)
	return nil
}

func (l *LMS) RemoveGroupMember(_ context.Context, groupID, userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.groupMembers[groupID], userID)
	return nil
}

func (l *LMS) courseGroup(g Group) core.CourseGroup {
	return core.CourseGroup{
		GroupID:    g.ID,
		GroupName:  g.Name,
		CourseID:   g.CourseID,
		CourseName: l.courses[g.CourseID],
	}
}

func set(m map[int64]map[int64]bool, k, v int64) {
	if m[k] == nil {
		m[k] = make(map[int64]bool)
	}
	m[k][v] = true
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortIDs(keys)
	return keys
}
