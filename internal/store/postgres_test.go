package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sopflow/api/internal/workflow"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func sectionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "header_id", "kind", "content_en", "content_ar", "version", "is_current", "is_active",
		"reviewer_comment", "created_at", "created_by_name", "modified_at", "modified_by_name",
	})
}

func TestUpdateHeaderStatusGuardHit(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE document_headers SET status=").
		WithArgs("doc-1", 1, 2, "Omar H.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	moved, err := st.UpdateHeaderStatus(context.Background(), "doc-1",
		workflow.StatusDraft, workflow.StatusSubmittedForReview,
		HeaderStatusUpdate{UpdatedBy: "Omar H."})
	if err != nil {
		t.Fatalf("UpdateHeaderStatus() error = %v", err)
	}
	if !moved {
		t.Error("expected guard hit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateHeaderStatusGuardMiss(t *testing.T) {
	st, mock := newMockStore(t)

	// Zero rows affected: the row no longer carries the expected status.
	mock.ExpectExec("UPDATE document_headers SET status=").
		WithArgs("doc-1", 5, 6, "Maha S.", "u-approver", "Maha S.", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	moved, err := st.UpdateHeaderStatus(context.Background(), "doc-1",
		workflow.StatusPendingManagerReview, workflow.StatusPublished,
		HeaderStatusUpdate{
			SetApproved: &Signature{UserID: "u-approver", UserName: "Maha S."},
			BumpVersion: true,
			UpdatedBy:   "Maha S.",
		})
	if err != nil {
		t.Fatalf("UpdateHeaderStatus() error = %v", err)
	}
	if moved {
		t.Error("expected guard miss")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetCurrentSection(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM sop_sections").
		WithArgs("doc-1", "purpose").
		WillReturnRows(sectionRows().
			AddRow("sec-1", "doc-1", "purpose", "Steps.", "", 3, true, true, "tighten wording", now, "Omar H.", nil, nil))

	rec, err := st.GetCurrentSection(context.Background(), "doc-1", "purpose")
	if err != nil {
		t.Fatalf("GetCurrentSection() error = %v", err)
	}
	if rec.Version != 3 || !rec.IsActive || rec.ReviewerComment != "tighten wording" {
		t.Errorf("record = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetCurrentSectionMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM sop_sections").
		WithArgs("doc-1", "scope").
		WillReturnRows(sectionRows())

	_, err := st.GetCurrentSection(context.Background(), "doc-1", "scope")
	if !IsNotFound(err) {
		t.Errorf("error = %v, want not-found", err)
	}
}

func TestArchiveAndInsertSection(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sop_sections SET is_active=FALSE").
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sop_sections").
		WithArgs("sec-2", "doc-1", "purpose", "B", "", 2, true, true, "", "Omar H.").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.ArchiveAndInsertSection(context.Background(), "sec-1", SectionRecord{
		ID: "sec-2", HeaderID: "doc-1", Kind: "purpose", ContentEn: "B",
		Version: 2, IsCurrent: true, IsActive: true, CreatedBy: "Omar H.",
	})
	if err != nil {
		t.Fatalf("ArchiveAndInsertSection() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestArchiveAndInsertSectionRace(t *testing.T) {
	st, mock := newMockStore(t)

	// The current row was archived by a concurrent save.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sop_sections SET is_active=FALSE").
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.ArchiveAndInsertSection(context.Background(), "sec-1", SectionRecord{ID: "sec-2"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("error = %v, want sql.ErrNoRows", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListSectionHistoryExcludesActive(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM sop_sections").
		WithArgs("doc-1", "scope").
		WillReturnRows(sectionRows().
			AddRow("sec-1", "doc-1", "scope", "v1", "", 1, true, false, nil, now, "Omar H.", nil, nil).
			AddRow("sec-2", "doc-1", "scope", "v2", "", 2, true, false, nil, now, "Omar H.", nil, nil))

	history, err := st.ListSectionHistory(context.Background(), "doc-1", "scope")
	if err != nil {
		t.Fatalf("ListSectionHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d", len(history))
	}
	if history[0].Version != 1 || history[1].Version != 2 {
		t.Errorf("history order = %d, %d", history[0].Version, history[1].Version)
	}
}

func TestUpdateSectionComment(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE sop_sections").
		WithArgs("sec-1", "clarify step 4", "Lina K.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.UpdateSectionComment(context.Background(), "sec-1", "clarify step 4", "Lina K."); err != nil {
		t.Fatalf("UpdateSectionComment() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestBuildDepartmentTree(t *testing.T) {
	qa := "dep-qa"
	departments := []Department{
		{ID: "dep-qa", NameEn: "Quality Assurance"},
		{ID: "dep-qc", ParentID: &qa, NameEn: "Quality Control"},
		{ID: "dep-orphan", ParentID: strPtr("dep-gone"), NameEn: "Orphan"},
	}

	tree := BuildDepartmentTree(departments)
	if len(tree) != 2 {
		t.Fatalf("roots = %d, want 2 (orphan promoted)", len(tree))
	}
	var qaNode *DepartmentTreeNode
	for i := range tree {
		if tree[i].ID == "dep-qa" {
			qaNode = &tree[i]
		}
	}
	if qaNode == nil || len(qaNode.Children) != 1 || qaNode.Children[0].ID != "dep-qc" {
		t.Errorf("tree = %+v", tree)
	}
}

func strPtr(s string) *string { return &s }
