package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testRevision(version int) Revision {
	return Revision{
		DocCode: "SOP-QA-001",
		TitleEn: "Gowning Procedure",
		TitleAr: "إجراء ارتداء الملابس",
		Version: version,
		Sections: map[string]SectionContent{
			"purpose": {ContentEn: fmt.Sprintf("purpose rev %d", version), Version: version},
			"scope":   {ContentEn: "all cleanrooms", Version: 1},
		},
	}
}

func TestPublishArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	commit, err := svc.CommitRevision("doc-1", testRevision(1), "Maha S.")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("archive directory missing: %v", err)
	}

	if _, err := svc.CommitRevision("doc-1", testRevision(2), "Maha S."); err != nil {
		t.Fatalf("CommitRevision() second publish error = %v", err)
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 publish commits, got %d", len(history))
	}
	if history[0].Message != "Publish SOP-QA-001 rev 2" {
		t.Errorf("unexpected newest commit message %q", history[0].Message)
	}

	first, err := svc.GetRevision("doc-1", 1)
	if err != nil {
		t.Fatalf("GetRevision(1) error = %v", err)
	}
	if first.Sections["purpose"].ContentEn != "purpose rev 1" {
		t.Errorf("tagged revision 1 content = %+v", first.Sections["purpose"])
	}

	second, err := svc.GetRevision("doc-1", 2)
	if err != nil {
		t.Fatalf("GetRevision(2) error = %v", err)
	}
	if second.Sections["purpose"].ContentEn != "purpose rev 2" {
		t.Errorf("tagged revision 2 content = %+v", second.Sections["purpose"])
	}
}

func TestRepublishSameVersionKeepsTag(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, err := svc.CommitRevision("doc-1", testRevision(1), "Maha S."); err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	// Tag v1 already exists; a second publish of the same version must not fail.
	if _, err := svc.CommitRevision("doc-1", testRevision(1), "Maha S."); err != nil {
		t.Fatalf("CommitRevision() republish error = %v", err)
	}

	rev, err := svc.GetRevision("doc-1", 1)
	if err != nil {
		t.Fatalf("GetRevision(1) error = %v", err)
	}
	if rev.Version != 1 {
		t.Errorf("unexpected revision %+v", rev)
	}
}

func TestConcurrentPublishesSerializedPerDocument(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(version int) {
			defer wg.Done()
			if _, err := svc.CommitRevision("doc-1", testRevision(version), "Maha S."); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent CommitRevision() error = %v", err)
	}

	history, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Errorf("expected 4 commits, got %d", len(history))
	}
}
