package core_test

import (
	"io"
	"strings"
	"testing"

	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/core/coretest"
)

const header = "E-mail,Promotions,TD,Regroupements"

// world is a small LMS catalog shared by the service tests.
//
//	Maths   (synced to P1): Groupe 1 [G1], G2, Old [OLD]
//	Physics (synced to P2): Groupe 3 [G3]
//
// Alice is enrolled in Maths. Bob is enrolled nowhere.
type world struct {
	*coretest.Fixture

	alice, bob     int64
	p1, p2         int64
	maths, physics int64
	g1, g2, gOld   int64
	g3             int64
}

func newWorld(t *testing.T, settings map[string]string) *world {
	t.Helper()
	w := &world{Fixture: coretest.NewFixture(settings)}
	lms := w.LMS

	w.alice = lms.AddUser("alice@example.com", "A100", "alice")
	w.bob = lms.AddUser("bob@example.com", "B200", "bob")

	w.p1 = lms.AddCohort("Promo 1", "P1")
	w.p2 = lms.AddCohort("Promo 2", "")

	w.maths = lms.AddCourse("Maths")
	w.physics = lms.AddCourse("Physics")

	w.g1 = lms.AddGroup(w.maths, "Groupe 1", "G1")
	w.g2 = lms.AddGroup(w.maths, "G2", "")
	w.gOld = lms.AddGroup(w.maths, "Old", "OLD")
	w.g3 = lms.AddGroup(w.physics, "Groupe 3", "G3")

	lms.SyncCohort(w.p1, w.maths)
	lms.SyncCohort(w.p2, w.physics)
	lms.Enrol(w.maths, w.alice)

	return w
}

func csvOf(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func infos(row core.ImportRow) []string {
	return row.StatusText.Infos()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// insertRow stores an already classified row and returns it with its id.
func (w *world) insertRow(t *testing.T, row core.ImportRow) core.ImportRow {
	t.Helper()
	before := len(w.Store.Rows())
	if err := w.Store.InsertRows(t.Context(), []core.ImportRow{row}); err != nil {
		t.Fatalf("InsertRows() error = %v", err)
	}
	rows := w.Store.Rows()
	if len(rows) != before+1 {
		t.Fatalf("expected %d rows, got %d", before+1, len(rows))
	}
	return rows[len(rows)-1]
}
