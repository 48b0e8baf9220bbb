package core_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/JonMunkholm/hpsync/internal/core"
)

func TestRunImport_TwoRowScenario(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()

	res, err := w.Service.Import(ctx, csvOf(
		header,
		"alice@example.com,P1,G1,G2",
		"bob@example.com,Nowhere,,",
	), core.ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	run, err := w.Service.RunImport(ctx, core.RunRequest{ImportID: res.ImportID, ActorID: 5})
	if err != nil {
		t.Fatalf("RunImport() error = %v", err)
	}
	if run.Selected != 1 || run.Dispatched != 1 {
		t.Errorf("RunImport() = %+v, want 1 selected and dispatched", run)
	}

	rows := w.Store.Rows()
	a, b := rows[0], rows[1]

	if a.Status != core.StatusDone {
		t.Errorf("row A status = %v, want DONE", a.Status)
	}
	wantA := []string{
		core.MsgProcessingStart,
		`Added user to cohort "Promo 1" (P1)`,
		fmt.Sprintf(`Added user to group "Groupe 1" (%d) in course "Maths" (%d)`, w.g1, w.maths),
		fmt.Sprintf(`Added user to group "G2" (%d) in course "Maths" (%d)`, w.g2, w.maths),
		core.MsgProcessingDone,
	}
	if got := infos(a); !reflect.DeepEqual(got, wantA) {
		t.Errorf("row A history =\n%q\nwant\n%q", got, wantA)
	}
	if !w.LMS.IsGroupMember(w.g1, w.alice) || !w.LMS.IsGroupMember(w.g2, w.alice) {
		t.Error("alice should be in both groups")
	}
	if !w.LMS.IsCohortMember(w.p1, w.alice) {
		t.Error("alice should be in cohort P1")
	}
	if a.ModifiedByID != 5 {
		t.Errorf("row A modified by %d, want 5", a.ModifiedByID)
	}

	if b.Status != core.StatusSkipped {
		t.Errorf("row B status = %v, want SKIPPED", b.Status)
	}
	if got := infos(b); !reflect.DeepEqual(got, []string{core.MsgCohortNotFound}) {
		t.Errorf("row B history = %q", got)
	}
	if ids := w.LMS.UserCohortIDs(w.bob); len(ids) != 0 {
		t.Errorf("bob cohorts = %v, want none", ids)
	}
	if ids := w.LMS.UserGroupIDs(w.bob); len(ids) != 0 {
		t.Errorf("bob groups = %v, want none", ids)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	row := w.insertRow(t, core.ImportRow{
		ImportID: 1, LineID: 2, IDField: core.IDFieldEmail, Email: "alice@example.com",
		UserID: w.alice, Cohort: "P1", CohortID: w.p1, GroupsCSV: "G1,G2", Status: core.StatusInited,
	})

	for _, flags := range [][2]bool{{false, false}, {true, true}} {
		if err := w.Service.Reconcile(ctx, row, flags[0], flags[1], 1); err != nil {
			t.Fatalf("first Reconcile() error = %v", err)
		}
		cohorts := w.LMS.UserCohortIDs(w.alice)
		groups := w.LMS.UserGroupIDs(w.alice)
		before := len(w.Store.Row(row.ID).StatusText)

		if err := w.Service.Reconcile(ctx, row, flags[0], flags[1], 1); err != nil {
			t.Fatalf("second Reconcile() error = %v", err)
		}
		if got := w.LMS.UserCohortIDs(w.alice); !reflect.DeepEqual(got, cohorts) {
			t.Errorf("cohorts changed on rerun: %v -> %v", cohorts, got)
		}
		if got := w.LMS.UserGroupIDs(w.alice); !reflect.DeepEqual(got, groups) {
			t.Errorf("groups changed on rerun: %v -> %v", groups, got)
		}
		if after := len(w.Store.Row(row.ID).StatusText); after <= before {
			t.Errorf("history did not grow on rerun: %d -> %d", before, after)
		}
	}
}

func TestReconcile_RemoveOtherCohorts(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	x := w.LMS.AddCohort("Old promo", "X")
	if _, err := w.LMS.AddCohortMember(ctx, x, w.alice); err != nil {
		t.Fatal(err)
	}

	row := w.insertRow(t, core.ImportRow{
		ImportID: 1, LineID: 2, UserID: w.alice, CohortID: w.p1, Status: core.StatusInited,
	})
	if err := w.Service.Reconcile(ctx, row, true, false, 1); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := w.LMS.UserCohortIDs(w.alice); !reflect.DeepEqual(got, []int64{w.p1}) {
		t.Errorf("cohorts = %v, want only %d", got, w.p1)
	}

	history := infos(w.Store.Row(row.ID))
	added := indexOf(history, `Added user to cohort "Promo 1" (P1)`)
	removed := indexOf(history, `Removed user from cohort "Old promo" (X)`)
	if added < 0 || removed < 0 || added > removed {
		t.Errorf("history = %q, want add before removal", history)
	}
}

func TestReconcile_KeepsOtherCohortsByDefault(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	x := w.LMS.AddCohort("Old promo", "X")
	if _, err := w.LMS.AddCohortMember(ctx, x, w.alice); err != nil {
		t.Fatal(err)
	}

	row := w.insertRow(t, core.ImportRow{ImportID: 1, UserID: w.alice, CohortID: w.p1, Status: core.StatusInited})
	if err := w.Service.Reconcile(ctx, row, false, false, 1); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !w.LMS.IsCohortMember(x, w.alice) {
		t.Error("other cohort membership should be kept")
	}
}

func TestReconcile_RemoveOtherGroups(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	w.LMS.Enrol(w.physics, w.alice)
	for _, g := range []int64{w.gOld, w.g3} {
		if err := w.LMS.AddGroupMember(ctx, g, w.alice); err != nil {
			t.Fatal(err)
		}
	}

	row := w.insertRow(t, core.ImportRow{
		ImportID: 1, UserID: w.alice, CohortID: w.p1, GroupsCSV: "G1", Status: core.StatusInited,
	})
	if err := w.Service.Reconcile(ctx, row, false, true, 1); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if w.LMS.IsGroupMember(w.gOld, w.alice) {
		t.Error("untargeted group in the same course should be removed")
	}
	if !w.LMS.IsGroupMember(w.g3, w.alice) {
		t.Error("group in another course should be kept")
	}
	if !w.LMS.IsGroupMember(w.g1, w.alice) {
		t.Error("targeted group should be joined")
	}

	want := fmt.Sprintf(`Removed user from group "Old" (%d) in course "Maths" (%d)`, w.gOld, w.maths)
	if !contains(infos(w.Store.Row(row.ID)), want) {
		t.Errorf("history missing %q", want)
	}
}

func TestReconcile_DeferredGroupJoin(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()

	row := w.insertRow(t, core.ImportRow{
		ImportID: 1, UserID: w.bob, CohortID: w.p1, GroupsCSV: "G1", Status: core.StatusInited,
	})

	for i := 0; i < 2; i++ {
		if err := w.Service.Reconcile(ctx, row, false, false, 1); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
	}

	joins := w.Store.Joins()
	if len(joins) != 1 {
		t.Fatalf("deferred joins = %d, want exactly 1", len(joins))
	}
	j := joins[0]
	if j.UserID != w.bob || j.CourseID != w.maths || j.TargetGroupID != w.g1 || j.OriginatingRowID != row.ID {
		t.Errorf("join = %+v", j)
	}
	if w.LMS.IsGroupMember(w.g1, w.bob) {
		t.Fatal("bob must not join the group before enrolment")
	}
	notEnrolled := fmt.Sprintf(`User not enrolled on course "Maths" (%d), unable to add user to group "Groupe 1" (%d)`, w.maths, w.g1)
	if !contains(infos(w.Store.Row(row.ID)), notEnrolled) {
		t.Errorf("history missing %q", notEnrolled)
	}

	// Enrolment in another course flushes nothing.
	if err := w.Service.OnUserEnrolled(ctx, w.bob, w.physics); err != nil {
		t.Fatalf("OnUserEnrolled() error = %v", err)
	}
	if len(w.Store.Joins()) != 1 {
		t.Fatal("join flushed by unrelated enrolment")
	}

	w.LMS.Enrol(w.maths, w.bob)
	if err := w.Service.OnUserEnrolled(ctx, w.bob, w.maths); err != nil {
		t.Fatalf("OnUserEnrolled() error = %v", err)
	}

	if !w.LMS.IsGroupMember(w.g1, w.bob) {
		t.Error("bob should be in the group after enrolment")
	}
	if n := len(w.Store.Joins()); n != 0 {
		t.Errorf("deferred joins = %d after flush, want 0", n)
	}
	added := fmt.Sprintf(`Added user to group "Groupe 1" (%d) in course "Maths" (%d)`, w.g1, w.maths)
	if !contains(infos(w.Store.Row(row.ID)), added) {
		t.Errorf("history missing %q", added)
	}
}

func TestOnUserEnrolled_SwallowsErrors(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()

	row := w.insertRow(t, core.ImportRow{ImportID: 1, UserID: w.bob, CohortID: w.p1, GroupsCSV: "G1", Status: core.StatusInited})
	if err := w.Service.Reconcile(ctx, row, false, false, 1); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	w.LMS.AddGroupMemberErr = errors.New("lms down")
	if err := w.Service.OnUserEnrolled(ctx, w.bob, w.maths); err != nil {
		t.Errorf("OnUserEnrolled() error = %v, want nil", err)
	}
	if len(w.Store.Joins()) != 1 {
		t.Error("failed join should be kept for a later flush")
	}
}

func TestReconcile_RequiresUserAndCohort(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()

	if err := w.Service.Reconcile(ctx, core.ImportRow{ID: 1, CohortID: w.p1}, false, false, 1); err == nil {
		t.Error("expected error for row without user")
	}
	if err := w.Service.Reconcile(ctx, core.ImportRow{ID: 1, UserID: w.alice}, false, false, 1); err == nil {
		t.Error("expected error for row without cohort")
	}
}

func TestRunImport_FailureIsolatedPerRow(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()

	failing := w.insertRow(t, core.ImportRow{ImportID: 9, LineID: 2, UserID: w.alice, CohortID: w.p1, GroupsCSV: "G1", Status: core.StatusInited})
	ok := w.insertRow(t, core.ImportRow{ImportID: 9, LineID: 3, UserID: w.bob, CohortID: w.p1, Status: core.StatusInited})

	w.LMS.AddGroupMemberErr = errors.New("lms down")
	res, err := w.Service.RunImport(ctx, core.RunRequest{ImportID: 9, ActorID: 1})
	if err != nil {
		t.Fatalf("RunImport() error = %v", err)
	}
	if res.Failed != 1 || res.Dispatched != 1 {
		t.Errorf("RunImport() = %+v, want 1 failed and 1 dispatched", res)
	}

	f := w.Store.Row(failing.ID)
	if f.Status == core.StatusDone {
		t.Error("failed row must not be DONE")
	}
	last := f.StatusText[len(f.StatusText)-1].Info
	if !strings.HasPrefix(last, "Processing failed") {
		t.Errorf("last history entry = %q, want failure", last)
	}
	if got := w.Store.Row(ok.ID).Status; got != core.StatusDone {
		t.Errorf("sibling row status = %v, want DONE", got)
	}
}
