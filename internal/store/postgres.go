package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sopflow/api/internal/workflow"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const headerColumns = `
	id, doc_code, title_en, title_ar, version, status, department_id,
	prepared_by_id, prepared_by_name, prepared_sig_ref, prepared_at,
	reviewed_by_id, reviewed_by_name, reviewed_sig_ref, reviewed_at,
	approved_by_id, approved_by_name, approved_sig_ref, approved_at,
	created_at, updated_at, updated_by_name`

func scanHeader(row interface{ Scan(...any) error }) (DocumentHeader, error) {
	var h DocumentHeader
	var status int
	var departmentID sql.NullString
	var pID, pName, pRef, rID, rName, rRef, aID, aName, aRef sql.NullString
	var pAt, rAt, aAt sql.NullTime
	err := row.Scan(
		&h.ID, &h.DocCode, &h.TitleEn, &h.TitleAr, &h.Version, &status, &departmentID,
		&pID, &pName, &pRef, &pAt,
		&rID, &rName, &rRef, &rAt,
		&aID, &aName, &aRef, &aAt,
		&h.CreatedAt, &h.UpdatedAt, &h.UpdatedBy,
	)
	if err != nil {
		return DocumentHeader{}, err
	}
	h.Status = workflow.Status(status)
	h.DepartmentID = departmentID.String
	h.PreparedBy = nullSignature(pID, pName, pRef, pAt)
	h.ReviewedBy = nullSignature(rID, rName, rRef, rAt)
	h.ApprovedBy = nullSignature(aID, aName, aRef, aAt)
	return h, nil
}

func nullSignature(id, name, ref sql.NullString, at sql.NullTime) Signature {
	sig := Signature{UserID: id.String, UserName: name.String, Ref: ref.String}
	if at.Valid {
		t := at.Time
		sig.SignedAt = &t
	}
	return sig
}

func (s *PostgresStore) InsertHeader(ctx context.Context, h DocumentHeader) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_headers (id, doc_code, title_en, title_ar, version, status, department_id, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, h.ID, h.DocCode, h.TitleEn, h.TitleAr, h.Version, int(h.Status), h.DepartmentID, h.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert header: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetHeader(ctx context.Context, headerID string) (DocumentHeader, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+headerColumns+` FROM document_headers WHERE id=$1`, headerID)
	return scanHeader(row)
}

func (s *PostgresStore) ListHeaders(ctx context.Context, departmentID string) ([]DocumentHeader, error) {
	query := `SELECT ` + headerColumns + ` FROM document_headers ORDER BY updated_at DESC`
	args := []any{}
	if departmentID != "" {
		query = `SELECT ` + headerColumns + ` FROM document_headers WHERE department_id=$1 ORDER BY updated_at DESC`
		args = append(args, departmentID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list headers: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentHeader, 0)
	for rows.Next() {
		item, err := scanHeader(rows)
		if err != nil {
			return nil, fmt.Errorf("scan header: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate headers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateHeaderTitles(ctx context.Context, headerID, titleEn, titleAr, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE document_headers
		SET title_en=$2, title_ar=$3, updated_by_name=$4, updated_at=NOW()
		WHERE id=$1
	`, headerID, titleEn, titleAr, updatedBy)
	if err != nil {
		return fmt.Errorf("update header titles: %w", err)
	}
	return nil
}

// HeaderStatusUpdate carries the header mutations that ride along with a
// status transition. Signature slots are only written when set.
type HeaderStatusUpdate struct {
	SetPrepared   *Signature
	SetReviewed   *Signature
	SetApproved   *Signature
	BumpVersion   bool
	ClearReviewed bool
	ClearApproved bool
	UpdatedBy     string
}

// UpdateHeaderStatus is the single check-then-act write of the workflow: the
// row only moves when it still carries the status the caller read. A false
// return means the guard failed and the caller must refetch.
func (s *PostgresStore) UpdateHeaderStatus(ctx context.Context, headerID string, from, to workflow.Status, upd HeaderStatusUpdate) (bool, error) {
	sets := []string{"status=$3", "updated_at=NOW()", "updated_by_name=$4"}
	args := []any{headerID, int(from), int(to), upd.UpdatedBy}

	appendSig := func(prefix string, sig *Signature) {
		if sig == nil {
			return
		}
		base := len(args)
		sets = append(sets,
			fmt.Sprintf("%s_by_id=$%d", prefix, base+1),
			fmt.Sprintf("%s_by_name=$%d", prefix, base+2),
			fmt.Sprintf("%s_sig_ref=$%d", prefix, base+3),
			fmt.Sprintf("%s_at=$%d", prefix, base+4),
		)
		signedAt := time.Now()
		if sig.SignedAt != nil {
			signedAt = *sig.SignedAt
		}
		args = append(args, sig.UserID, sig.UserName, sig.Ref, signedAt)
	}
	appendSig("prepared", upd.SetPrepared)
	appendSig("reviewed", upd.SetReviewed)
	appendSig("approved", upd.SetApproved)

	if upd.BumpVersion {
		sets = append(sets, "version=version+1")
	}
	if upd.ClearReviewed {
		sets = append(sets, "reviewed_by_id=NULL", "reviewed_by_name=NULL", "reviewed_sig_ref=NULL", "reviewed_at=NULL")
	}
	if upd.ClearApproved {
		sets = append(sets, "approved_by_id=NULL", "approved_by_name=NULL", "approved_sig_ref=NULL", "approved_at=NULL")
	}

	query := `UPDATE document_headers SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 AND status=$2`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update header status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update header status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteHeader(ctx context.Context, headerID string) error {
	// Sections cascade with the aggregate root.
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_headers WHERE id=$1`, headerID)
	if err != nil {
		return fmt.Errorf("delete header: %w", err)
	}
	return nil
}

const sectionColumns = `
	id, header_id, kind, content_en, content_ar, version, is_current, is_active,
	reviewer_comment, created_at, created_by_name, modified_at, modified_by_name`

func scanSection(row interface{ Scan(...any) error }) (SectionRecord, error) {
	var rec SectionRecord
	var comment, modifiedBy sql.NullString
	var modifiedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.HeaderID, &rec.Kind, &rec.ContentEn, &rec.ContentAr,
		&rec.Version, &rec.IsCurrent, &rec.IsActive,
		&comment, &rec.CreatedAt, &rec.CreatedBy, &modifiedAt, &modifiedBy,
	)
	if err != nil {
		return SectionRecord{}, err
	}
	rec.ReviewerComment = comment.String
	rec.ModifiedBy = modifiedBy.String
	if modifiedAt.Valid {
		t := modifiedAt.Time
		rec.ModifiedAt = &t
	}
	return rec, nil
}

// GetCurrentSection finds the single active row for (header, kind). The
// partial unique index sop_sections_one_active backs the LIMIT 1.
func (s *PostgresStore) GetCurrentSection(ctx context.Context, headerID, kind string) (SectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sectionColumns+`
		FROM sop_sections
		WHERE header_id=$1 AND kind=$2 AND is_active
		LIMIT 1
	`, headerID, kind)
	return scanSection(row)
}

func (s *PostgresStore) ListSectionHistory(ctx context.Context, headerID, kind string) ([]SectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sectionColumns+`
		FROM sop_sections
		WHERE header_id=$1 AND kind=$2 AND NOT is_active
		ORDER BY version ASC
	`, headerID, kind)
	if err != nil {
		return nil, fmt.Errorf("list section history: %w", err)
	}
	defer rows.Close()

	items := make([]SectionRecord, 0)
	for rows.Next() {
		item, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate section history: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCurrentSections(ctx context.Context, headerID string) ([]SectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sectionColumns+`
		FROM sop_sections
		WHERE header_id=$1 AND is_active
	`, headerID)
	if err != nil {
		return nil, fmt.Errorf("list current sections: %w", err)
	}
	defer rows.Close()

	byKind := make(map[string]SectionRecord)
	for rows.Next() {
		item, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		byKind[item.Kind] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate current sections: %w", err)
	}

	items := make([]SectionRecord, 0, len(byKind))
	for _, kind := range SectionKinds {
		if item, ok := byKind[kind]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

const insertSectionSQL = `
	INSERT INTO sop_sections (id, header_id, kind, content_en, content_ar, version, is_current, is_active, reviewer_comment, created_by_name)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`

func (s *PostgresStore) InsertSection(ctx context.Context, rec SectionRecord) error {
	_, err := s.db.ExecContext(ctx, insertSectionSQL,
		rec.ID, rec.HeaderID, rec.Kind, rec.ContentEn, rec.ContentAr,
		rec.Version, rec.IsCurrent, rec.IsActive, rec.ReviewerComment, rec.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

// ArchiveAndInsertSection seals the current record and inserts its successor
// in one transaction, so a crash between the two cannot leave (header, kind)
// without an active row. The archived row's modified fields are left
// untouched; it is history from this point on.
func (s *PostgresStore) ArchiveAndInsertSection(ctx context.Context, currentID string, next SectionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE sop_sections SET is_active=FALSE WHERE id=$1 AND is_active`, currentID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("archive section: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("archive section rows: %w", err)
	}
	if affected == 0 {
		// Someone archived it first; inserting would race the invariant.
		_ = tx.Rollback()
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, insertSectionSQL,
		next.ID, next.HeaderID, next.Kind, next.ContentEn, next.ContentAr,
		next.Version, next.IsCurrent, next.IsActive, next.ReviewerComment, next.CreatedBy,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert successor section: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSectionComment(ctx context.Context, sectionID, comment, modifiedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sop_sections
		SET reviewer_comment=NULLIF($2, ''), modified_at=NOW(), modified_by_name=$3
		WHERE id=$1 AND is_active
	`, sectionID, comment, modifiedBy)
	if err != nil {
		return fmt.Errorf("update section comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDepartment(ctx context.Context, d Department) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, parent_id, name_en, name_ar)
		VALUES ($1, $2, $3, $4)
	`, d.ID, d.ParentID, d.NameEn, d.NameAr)
	if err != nil {
		return fmt.Errorf("insert department: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, name_en, name_ar, created_at, updated_at
		FROM departments
		ORDER BY name_en ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]Department, 0)
	for rows.Next() {
		var item Department
		if err := rows.Scan(&item.ID, &item.ParentID, &item.NameEn, &item.NameAr, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateDepartment(ctx context.Context, departmentID, nameEn, nameAr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE departments SET name_en=$2, name_ar=$3, updated_at=NOW() WHERE id=$1
	`, departmentID, nameEn, nameAr)
	if err != nil {
		return fmt.Errorf("update department: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDepartment(ctx context.Context, departmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE id=$1`, departmentID)
	if err != nil {
		return fmt.Errorf("delete department: %w", err)
	}
	return nil
}

func (s *PostgresStore) DepartmentHeaderCount(ctx context.Context, departmentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_headers WHERE department_id=$1`, departmentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count department headers: %w", err)
	}
	return count, nil
}

// BuildDepartmentTree assembles the flat department list into parent/child
// nodes. Orphans (dangling parent ids) surface as roots rather than
// disappearing.
func BuildDepartmentTree(departments []Department) []DepartmentTreeNode {
	byID := make(map[string]Department, len(departments))
	for _, d := range departments {
		byID[d.ID] = d
	}

	children := make(map[string][]Department)
	var roots []Department
	for _, d := range departments {
		if d.ParentID == nil {
			roots = append(roots, d)
			continue
		}
		if _, ok := byID[*d.ParentID]; !ok {
			roots = append(roots, d)
			continue
		}
		children[*d.ParentID] = append(children[*d.ParentID], d)
	}

	var build func(d Department, depth int) DepartmentTreeNode
	build = func(d Department, depth int) DepartmentTreeNode {
		node := DepartmentTreeNode{Department: d, Depth: depth}
		for _, child := range children[d.ID] {
			node.Children = append(node.Children, build(child, depth+1))
		}
		return node
	}

	nodes := make([]DepartmentTreeNode, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, build(root, 0))
	}
	return nodes
}

// IsNotFound reports whether err is the store's missing-row condition.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
