// Package app wires the SOP workflow, section versioning, and supporting
// services behind one orchestrating Service. Handlers stay thin; every rule
// about who may move a document and what a save does lives here.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"sopflow/api/internal/archive"
	"sopflow/api/internal/config"
	"sopflow/api/internal/export"
	"sopflow/api/internal/notify"
	"sopflow/api/internal/search"
	"sopflow/api/internal/store"
	"sopflow/api/internal/util"
	"sopflow/api/internal/workflow"
)

// Actor identifies the signed-in user as asserted by the gateway. Identity
// and role resolution happen upstream; this core trusts the headers.
type Actor struct {
	ID           string
	Name         string
	Role         workflow.Role
	SignatureRef string
}

type dataStore interface {
	Ping(ctx context.Context) error

	InsertHeader(ctx context.Context, h store.DocumentHeader) error
	GetHeader(ctx context.Context, headerID string) (store.DocumentHeader, error)
	ListHeaders(ctx context.Context, departmentID string) ([]store.DocumentHeader, error)
	UpdateHeaderTitles(ctx context.Context, headerID, titleEn, titleAr, updatedBy string) error
	UpdateHeaderStatus(ctx context.Context, headerID string, from, to workflow.Status, upd store.HeaderStatusUpdate) (bool, error)
	DeleteHeader(ctx context.Context, headerID string) error

	GetCurrentSection(ctx context.Context, headerID, kind string) (store.SectionRecord, error)
	ListSectionHistory(ctx context.Context, headerID, kind string) ([]store.SectionRecord, error)
	ListCurrentSections(ctx context.Context, headerID string) ([]store.SectionRecord, error)
	InsertSection(ctx context.Context, rec store.SectionRecord) error
	ArchiveAndInsertSection(ctx context.Context, currentID string, next store.SectionRecord) error
	UpdateSectionComment(ctx context.Context, sectionID, comment, modifiedBy string) error

	InsertDepartment(ctx context.Context, d store.Department) error
	ListDepartments(ctx context.Context) ([]store.Department, error)
	UpdateDepartment(ctx context.Context, departmentID, nameEn, nameAr string) error
	DeleteDepartment(ctx context.Context, departmentID string) error
	DepartmentHeaderCount(ctx context.Context, departmentID string) (int, error)
}

type archiveStore interface {
	CommitRevision(documentID string, rev archive.Revision, author string) (archive.CommitInfo, error)
	GetRevision(documentID string, version int) (archive.Revision, error)
	History(documentID string, limit int) ([]archive.CommitInfo, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	notifier notify.Notifier
	search   *search.Service
	archive  archiveStore
	exporter *export.Service
}

func New(cfg config.Config, st *store.PostgresStore, notifier notify.Notifier, searchSvc *search.Service, archiveSvc *archive.Service, exporter *export.Service) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		search:   searchSvc,
		archive:  archiveSvc,
		exporter: exporter,
	}
}

func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- documents ----

type CreateDocumentInput struct {
	DocCode      string
	TitleEn      string
	TitleAr      string
	DepartmentID string
}

func (s *Service) CreateDocument(ctx context.Context, actor Actor, input CreateDocumentInput) (store.DocumentHeader, error) {
	if input.DocCode == "" || input.TitleEn == "" {
		return store.DocumentHeader{}, domainError(422, "VALIDATION_ERROR", "docCode and titleEn are required", nil)
	}
	header := store.DocumentHeader{
		ID:           util.NewID("doc"),
		DocCode:      input.DocCode,
		TitleEn:      input.TitleEn,
		TitleAr:      input.TitleAr,
		Version:      0,
		Status:       workflow.StatusDraft,
		DepartmentID: input.DepartmentID,
		UpdatedBy:    actor.Name,
	}
	if err := s.store.InsertHeader(ctx, header); err != nil {
		return store.DocumentHeader{}, err
	}
	created, err := s.store.GetHeader(ctx, header.ID)
	if err != nil {
		return store.DocumentHeader{}, err
	}
	s.indexHeader(created)
	return created, nil
}

// DocumentView is a header with its current section content, as shown on the
// document page.
type DocumentView struct {
	Header   store.DocumentHeader
	Sections []store.SectionRecord
}

// GetDocument loads the header and its current sections, applying any
// implicit status transition the viewer's role triggers first. Viewing never
// fails over workflow state; the caller always gets the document back.
func (s *Service) GetDocument(ctx context.Context, headerID string, actor Actor) (DocumentView, error) {
	header, err := s.OnDocumentViewed(ctx, headerID, actor)
	if err != nil {
		return DocumentView{}, err
	}
	sections, err := s.store.ListCurrentSections(ctx, headerID)
	if err != nil {
		return DocumentView{}, err
	}
	return DocumentView{Header: header, Sections: sections}, nil
}

func (s *Service) ListDocuments(ctx context.Context, departmentID string) ([]store.DocumentHeader, error) {
	return s.store.ListHeaders(ctx, departmentID)
}

func (s *Service) UpdateDocumentTitles(ctx context.Context, headerID string, actor Actor, titleEn, titleAr string) (store.DocumentHeader, error) {
	header, err := s.store.GetHeader(ctx, headerID)
	if err != nil {
		return store.DocumentHeader{}, err
	}
	if header.Status == workflow.StatusPublished {
		return store.DocumentHeader{}, fmt.Errorf("%w: document %s is published", ErrSectionLocked, headerID)
	}
	if err := s.store.UpdateHeaderTitles(ctx, headerID, titleEn, titleAr, actor.Name); err != nil {
		return store.DocumentHeader{}, err
	}
	updated, err := s.store.GetHeader(ctx, headerID)
	if err != nil {
		return store.DocumentHeader{}, err
	}
	s.indexHeader(updated)
	return updated, nil
}

func (s *Service) DeleteDocument(ctx context.Context, headerID string) error {
	if _, err := s.store.GetHeader(ctx, headerID); err != nil {
		return err
	}
	if err := s.store.DeleteHeader(ctx, headerID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteHeader(headerID)
	}
	return nil
}

// ---- workflow ----

// TransitionPayload carries the signing detail of an explicit transition.
type TransitionPayload struct {
	SignatureRef string
	SignedAt     *time.Time
}

func (s *Service) SubmitForReview(ctx context.Context, headerID string, actor Actor, payload TransitionPayload) (store.DocumentHeader, error) {
	return s.applyTransition(ctx, headerID, actor, workflow.ActionSubmit, payload)
}

func (s *Service) SupervisorApprove(ctx context.Context, headerID string, actor Actor, payload TransitionPayload) (store.DocumentHeader, error) {
	return s.applyTransition(ctx, headerID, actor, workflow.ActionApprove, payload)
}

func (s *Service) ConfirmApproval(ctx context.Context, headerID string, actor Actor) (store.DocumentHeader, error) {
	return s.applyTransition(ctx, headerID, actor, workflow.ActionConfirm, TransitionPayload{})
}

func (s *Service) ManagerApprove(ctx context.Context, headerID string, actor Actor, payload TransitionPayload) (store.DocumentHeader, error) {
	return s.applyTransition(ctx, headerID, actor, workflow.ActionApprove, payload)
}

func (s *Service) ReturnForRevision(ctx context.Context, headerID string, actor Actor, payload TransitionPayload) (store.DocumentHeader, error) {
	return s.applyTransition(ctx, headerID, actor, workflow.ActionReturn, payload)
}

// OnDocumentViewed applies whatever implicit transition the viewer's role
// triggers at the current status. It never fails over workflow state; a role
// with no view edge gets the header back unchanged.
func (s *Service) OnDocumentViewed(ctx context.Context, headerID string, actor Actor) (store.DocumentHeader, error) {
	return s.applyTransition(ctx, headerID, actor, workflow.ActionView, TransitionPayload{})
}

// ApplyAction is the generic entry point used by the HTTP layer; the named
// wrappers above exist for internal callers and tests.
func (s *Service) ApplyAction(ctx context.Context, headerID string, actor Actor, action workflow.Action, payload TransitionPayload) (store.DocumentHeader, error) {
	switch action {
	case workflow.ActionSubmit, workflow.ActionApprove, workflow.ActionConfirm, workflow.ActionReturn, workflow.ActionView:
		return s.applyTransition(ctx, headerID, actor, action, payload)
	default:
		return store.DocumentHeader{}, domainError(422, "VALIDATION_ERROR", fmt.Sprintf("unknown action %q", action), nil)
	}
}

// applyTransition reads the header, resolves the transition table, and moves
// the status with an optimistic guard on the status the caller read.
//
// Misses resolve in this order: a (role, action) pair whose target is already
// the current status is a retry and succeeds as a no-op; a view with no edge
// is a plain read; anything else is rejected. A failed guard means another
// writer moved the row first, so the header is refetched; if it landed on the
// same target the race was benign.
func (s *Service) applyTransition(ctx context.Context, headerID string, actor Actor, action workflow.Action, payload TransitionPayload) (store.DocumentHeader, error) {
	header, err := s.store.GetHeader(ctx, headerID)
	if err != nil {
		return store.DocumentHeader{}, err
	}

	tr, ok := workflow.Find(header.Status, actor.Role, action)
	if !ok {
		if workflow.AlreadyApplied(header.Status, actor.Role, action) {
			return header, nil
		}
		if action == workflow.ActionView {
			return header, nil
		}
		return store.DocumentHeader{}, fmt.Errorf("%w: %s cannot %s a %s document", ErrInvalidTransition, actor.Role, action, header.Status)
	}

	upd := store.HeaderStatusUpdate{UpdatedBy: actor.Name, BumpVersion: tr.BumpsVersion}
	if tr.Signs != workflow.SignsNone {
		sig := &store.Signature{
			UserID:   actor.ID,
			UserName: actor.Name,
			Ref:      actor.SignatureRef,
			SignedAt: payload.SignedAt,
		}
		if payload.SignatureRef != "" {
			sig.Ref = payload.SignatureRef
		}
		switch tr.Signs {
		case workflow.SignsPrepared:
			upd.SetPrepared = sig
		case workflow.SignsReviewed:
			upd.SetReviewed = sig
		case workflow.SignsApproved:
			upd.SetApproved = sig
		}
	}
	if tr.ClearsApprovals {
		upd.ClearReviewed = true
		upd.ClearApproved = true
	}

	moved, err := s.store.UpdateHeaderStatus(ctx, headerID, header.Status, tr.To, upd)
	if err != nil {
		return store.DocumentHeader{}, err
	}
	if !moved {
		current, err := s.store.GetHeader(ctx, headerID)
		if err != nil {
			return store.DocumentHeader{}, err
		}
		if current.Status == tr.To {
			return current, nil
		}
		if tr.Implicit {
			return current, nil
		}
		return store.DocumentHeader{}, fmt.Errorf("%w: document moved from %s to %s while %s was in flight",
			ErrStaleState, header.Status, current.Status, action)
	}

	updated, err := s.store.GetHeader(ctx, headerID)
	if err != nil {
		return store.DocumentHeader{}, err
	}
	log.Printf("workflow: %s %s by %s (%s): %s -> %s",
		updated.DocCode, action, actor.Name, actor.Role, header.Status, updated.Status)

	s.indexHeader(updated)
	if updated.Status == workflow.StatusPublished {
		s.archivePublished(ctx, updated, actor)
	}
	return updated, nil
}

// archivePublished snapshots the freshly published revision into the git
// archive. Failure is logged, never surfaced: the publish already happened.
func (s *Service) archivePublished(ctx context.Context, header store.DocumentHeader, actor Actor) {
	if s.archive == nil {
		return
	}
	sections, err := s.store.ListCurrentSections(ctx, header.ID)
	if err != nil {
		log.Printf("archive: load sections of %s: %v", header.ID, err)
		return
	}
	rev := archive.Revision{
		DocCode:  header.DocCode,
		TitleEn:  header.TitleEn,
		TitleAr:  header.TitleAr,
		Version:  header.Version,
		Sections: make(map[string]archive.SectionContent, len(sections)),
	}
	for _, rec := range sections {
		rev.Sections[rec.Kind] = archive.SectionContent{
			ContentEn: rec.ContentEn,
			ContentAr: rec.ContentAr,
			Version:   rec.Version,
		}
	}
	if _, err := s.archive.CommitRevision(header.ID, rev, actor.Name); err != nil {
		log.Printf("archive: commit %s rev %d: %v", header.DocCode, header.Version, err)
	}
}

func (s *Service) PublishedRevision(headerID string, version int) (archive.Revision, error) {
	if s.archive == nil {
		return archive.Revision{}, domainError(404, "NOT_FOUND", "archive disabled", nil)
	}
	return s.archive.GetRevision(headerID, version)
}

func (s *Service) PublishHistory(headerID string, limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return []archive.CommitInfo{}, nil
	}
	return s.archive.History(headerID, limit)
}

// ---- sections ----

type SaveSectionInput struct {
	Kind            string
	ContentEn       string
	ContentAr       string
	ReviewerComment string
}

// SaveSection applies the content-diff rule for one section of a header.
//
// Changed content archives the current record and inserts a successor at
// version+1. Identical content updates the current record in place: the
// comment, modifiedAt, and modifiedBy change, the version does not. Either
// way at most one record per (header, kind) stays active. Saves on a
// published document are rejected until the manager returns it for revision.
func (s *Service) SaveSection(ctx context.Context, headerID string, actor Actor, input SaveSectionInput) (store.SectionRecord, error) {
	if !store.IsSectionKind(input.Kind) {
		return store.SectionRecord{}, fmt.Errorf("%w: %q", ErrUnknownSectionKind, input.Kind)
	}
	header, err := s.store.GetHeader(ctx, headerID)
	if err != nil {
		return store.SectionRecord{}, err
	}
	if header.Status == workflow.StatusPublished {
		return store.SectionRecord{}, fmt.Errorf("%w: %s is published", ErrSectionLocked, header.DocCode)
	}

	current, err := s.store.GetCurrentSection(ctx, headerID, input.Kind)
	if store.IsNotFound(err) {
		rec := store.SectionRecord{
			ID:              util.NewID("sec"),
			HeaderID:        headerID,
			Kind:            input.Kind,
			ContentEn:       input.ContentEn,
			ContentAr:       input.ContentAr,
			Version:         1,
			IsCurrent:       true,
			IsActive:        true,
			ReviewerComment: input.ReviewerComment,
			CreatedBy:       actor.Name,
		}
		if err := s.store.InsertSection(ctx, rec); err != nil {
			return store.SectionRecord{}, err
		}
		s.maybeNotify(actor, header, input.Kind, input.ReviewerComment, "")
		s.indexSection(rec)
		created, err := s.store.GetCurrentSection(ctx, headerID, input.Kind)
		if err != nil {
			return rec, nil
		}
		return created, nil
	}
	if err != nil {
		return store.SectionRecord{}, err
	}

	contentChanged := current.ContentEn != input.ContentEn || current.ContentAr != input.ContentAr
	if contentChanged {
		next := store.SectionRecord{
			ID:              util.NewID("sec"),
			HeaderID:        headerID,
			Kind:            input.Kind,
			ContentEn:       input.ContentEn,
			ContentAr:       input.ContentAr,
			Version:         current.Version + 1,
			IsCurrent:       true,
			IsActive:        true,
			ReviewerComment: input.ReviewerComment,
			CreatedBy:       actor.Name,
		}
		if err := s.store.ArchiveAndInsertSection(ctx, current.ID, next); err != nil {
			if store.IsNotFound(err) {
				return store.SectionRecord{}, fmt.Errorf("%w: section %s/%s advanced concurrently", ErrStaleState, headerID, input.Kind)
			}
			return store.SectionRecord{}, err
		}
		s.maybeNotify(actor, header, input.Kind, input.ReviewerComment, current.ReviewerComment)
		s.indexSection(next)
		saved, err := s.store.GetCurrentSection(ctx, headerID, input.Kind)
		if err != nil {
			return next, nil
		}
		return saved, nil
	}

	if err := s.store.UpdateSectionComment(ctx, current.ID, input.ReviewerComment, actor.Name); err != nil {
		return store.SectionRecord{}, err
	}
	s.maybeNotify(actor, header, input.Kind, input.ReviewerComment, current.ReviewerComment)
	saved, err := s.store.GetCurrentSection(ctx, headerID, input.Kind)
	if err != nil {
		current.ReviewerComment = input.ReviewerComment
		current.ModifiedBy = actor.Name
		return current, nil
	}
	return saved, nil
}

// maybeNotify raises the rework event when a reviewing role sets a new,
// non-empty comment. Re-saving an unchanged comment stays silent, so each
// qualifying save produces exactly one event. Delivery is fire-and-forget.
func (s *Service) maybeNotify(actor Actor, header store.DocumentHeader, kind, comment, previous string) {
	if actor.Role != workflow.RoleReviewer && actor.Role != workflow.RoleApprover {
		return
	}
	if comment == "" || comment == previous {
		return
	}
	event := notify.Event{
		Role:     string(workflow.RoleAuthor),
		HeaderID: header.ID,
		Kind:     kind,
		Message:  fmt.Sprintf("%s commented on %s of %s: %s", actor.Name, kind, header.DocCode, comment),
		RaisedAt: time.Now(),
		RaisedBy: actor.Name,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.NotifyRoleHolders(ctx, event); err != nil {
			log.Printf("notify: %s comment on %s/%s: %v", actor.Role, header.ID, kind, err)
		}
	}()
}

func (s *Service) GetSection(ctx context.Context, headerID, kind string) (store.SectionRecord, error) {
	if !store.IsSectionKind(kind) {
		return store.SectionRecord{}, fmt.Errorf("%w: %q", ErrUnknownSectionKind, kind)
	}
	return s.store.GetCurrentSection(ctx, headerID, kind)
}

func (s *Service) GetSectionHistory(ctx context.Context, headerID, kind string) ([]store.SectionRecord, error) {
	if !store.IsSectionKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSectionKind, kind)
	}
	return s.store.ListSectionHistory(ctx, headerID, kind)
}

// ---- export ----

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "export service not configured", nil)
	}
	return s.exporter.Export(ctx, req)
}

// ---- departments ----

func (s *Service) CreateDepartment(ctx context.Context, nameEn, nameAr string, parentID *string) (store.Department, error) {
	if nameEn == "" {
		return store.Department{}, domainError(422, "VALIDATION_ERROR", "nameEn is required", nil)
	}
	d := store.Department{
		ID:       util.NewID("dep"),
		ParentID: parentID,
		NameEn:   nameEn,
		NameAr:   nameAr,
	}
	if err := s.store.InsertDepartment(ctx, d); err != nil {
		return store.Department{}, err
	}
	return d, nil
}

func (s *Service) DepartmentTree(ctx context.Context) ([]store.DepartmentTreeNode, error) {
	departments, err := s.store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	return store.BuildDepartmentTree(departments), nil
}

func (s *Service) UpdateDepartment(ctx context.Context, departmentID, nameEn, nameAr string) error {
	return s.store.UpdateDepartment(ctx, departmentID, nameEn, nameAr)
}

func (s *Service) DeleteDepartment(ctx context.Context, departmentID string) error {
	count, err := s.store.DepartmentHeaderCount(ctx, departmentID)
	if err != nil {
		return err
	}
	if count > 0 {
		return domainError(409, "DEPARTMENT_IN_USE", fmt.Sprintf("department has %d documents", count), nil)
	}
	return s.store.DeleteDepartment(ctx, departmentID)
}

// ---- search ----

func (s *Service) Search(query string, limit int) []search.Result {
	if s.search == nil {
		return []search.Result{}
	}
	return s.search.Search(query, limit)
}

func (s *Service) indexHeader(h store.DocumentHeader) {
	if s.search == nil {
		return
	}
	s.search.IndexHeader(search.HeaderRecord{
		ID:           h.ID,
		DocCode:      h.DocCode,
		TitleEn:      h.TitleEn,
		TitleAr:      h.TitleAr,
		Status:       h.Status.String(),
		DepartmentID: h.DepartmentID,
	})
}

func (s *Service) indexSection(rec store.SectionRecord) {
	if s.search == nil {
		return
	}
	s.search.IndexSection(search.SectionRecord{
		ID:        rec.HeaderID + ":" + rec.Kind,
		HeaderID:  rec.HeaderID,
		Kind:      rec.Kind,
		ContentEn: rec.ContentEn,
		ContentAr: rec.ContentAr,
		Version:   rec.Version,
	})
}
