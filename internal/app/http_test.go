package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sopflow/api/internal/workflow"
)

func newTestServer(st dataStore) *httptest.Server {
	svc := newTestService(st, nil)
	return httptest.NewServer(NewHTTPServer(svc, nil, "*").Handler())
}

func actorHeaders(req *http.Request, actor Actor) {
	req.Header.Set("X-Actor-Id", actor.ID)
	req.Header.Set("X-Actor-Name", actor.Name)
	req.Header.Set("X-Actor-Role", string(actor.Role))
}

func doJSON(t *testing.T, method, url string, actor *Actor, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		actorHeaders(req, *actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newMemStore())
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestCreateDocumentRequiresActorHeaders(t *testing.T) {
	server := newTestServer(newMemStore())
	defer server.Close()

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/documents", nil,
		`{"docCode":"SOP-QA-002","titleEn":"Cleaning Validation"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestCreateAndFetchDocument(t *testing.T) {
	st := newMemStore()
	server := newTestServer(st)
	defer server.Close()

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/documents", &author,
		`{"docCode":"SOP-QA-002","titleEn":"Cleaning Validation","titleAr":"التحقق من التنظيف"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %v", resp.StatusCode, payload)
	}
	doc, ok := payload["document"].(map[string]any)
	if !ok {
		t.Fatalf("payload = %v", payload)
	}
	id, _ := doc["ID"].(string)
	if id == "" {
		t.Fatalf("document id missing: %v", doc)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/documents/"+id, &author, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch status = %d: %v", resp.StatusCode, payload)
	}
}

func TestWorkflowActionEndpoint(t *testing.T) {
	st := newMemStore(draftHeader())
	server := newTestServer(st)
	defer server.Close()

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/documents/doc-1/actions", &author,
		`{"action":"submit","signatureRef":"sig/omar.png"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d: %v", resp.StatusCode, payload)
	}

	// An approver cannot approve a freshly submitted document.
	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/documents/doc-1/actions", &approver,
		`{"action":"approve"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("invalid action status = %d: %v", resp.StatusCode, payload)
	}
	if payload["code"] != "INVALID_TRANSITION" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestReviewerFetchConsumesSubmittedStatus(t *testing.T) {
	h := draftHeader()
	h.Status = workflow.StatusSubmittedForReview
	st := newMemStore(h)
	server := newTestServer(st)
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/documents/doc-1", &reviewer, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, payload)
	}
	stored, _ := st.GetHeader(context.Background(), "doc-1")
	if stored.Status != workflow.StatusUnderSupervisorReview {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestSaveSectionEndpoint(t *testing.T) {
	st := newMemStore(draftHeader())
	server := newTestServer(st)
	defer server.Close()

	resp, payload := doJSON(t, http.MethodPut, server.URL+"/api/documents/doc-1/sections/purpose", &author,
		`{"contentEn":"Describe gowning steps."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d: %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPut, server.URL+"/api/documents/doc-1/sections/appendix", &author,
		`{"contentEn":"X"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown kind status = %d: %v", resp.StatusCode, payload)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestSaveSectionLockedEndpoint(t *testing.T) {
	h := draftHeader()
	h.Status = workflow.StatusPublished
	st := newMemStore(h)
	server := newTestServer(st)
	defer server.Close()

	resp, payload := doJSON(t, http.MethodPut, server.URL+"/api/documents/doc-1/sections/purpose", &author,
		`{"contentEn":"X"}`)
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("status = %d: %v", resp.StatusCode, payload)
	}
	if payload["code"] != "SECTION_LOCKED" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestSectionHistoryEndpoint(t *testing.T) {
	st := newMemStore(draftHeader())
	svc := newTestService(st, nil)
	server := httptest.NewServer(NewHTTPServer(svc, nil, "*").Handler())
	defer server.Close()

	ctx := context.Background()
	if _, err := svc.SaveSection(ctx, "doc-1", author, SaveSectionInput{Kind: "scope", ContentEn: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SaveSection(ctx, "doc-1", author, SaveSectionInput{Kind: "scope", ContentEn: "B"}); err != nil {
		t.Fatal(err)
	}

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/documents/doc-1/sections/scope/history", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, payload)
	}
	history, ok := payload["history"].([]any)
	if !ok || len(history) != 1 {
		t.Errorf("history = %v", payload["history"])
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server := newTestServer(newMemStore())
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/nope", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %v", resp.StatusCode, payload)
	}
}
