package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mirekh/doppel/internal/memory"
	"github.com/mirekh/doppel/internal/storage"
)

const testToken = "test-token-12345"

type fakeGenerator struct {
	output string
	err    error
}

func (g *fakeGenerator) Generate(_ context.Context, snap memory.Snapshot, request string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.output, nil
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := memory.NewEngine(store)

	handler := NewAppHandler(AppDeps{
		Jobs:      store,
		Snapshots: engine,
		Generator: &fakeGenerator{output: "generated text"},
		Resetter:  store,
		Token:     token,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHealthNoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/individuals/mirek/memory", "", "")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthWrongToken(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/individuals/mirek/memory", "", "wrong-token")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestIngest_Text(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	body := `{"content_type":"text","source":"conversation","text":"I work at Acme"}`
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/ingest", body, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "queued" {
		t.Errorf("status = %q, want %q", resp["status"], "queued")
	}
	if resp["job_id"] == "" {
		t.Fatal("response missing job_id")
	}

	job, err := store.ClaimNextJob([]string{storage.JobTypeConsolidate})
	if err != nil {
		t.Fatalf("claiming job: %v", err)
	}
	if job == nil {
		t.Fatal("no consolidation job queued")
	}
	if !strings.Contains(job.PayloadJSON, "I work at Acme") {
		t.Errorf("payload = %q, want ingested text", job.PayloadJSON)
	}
}

func TestIngest_MissingBody(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/ingest", `{"content_type":"text"}`, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestIngest_TextFileUpload(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	encoded := base64.StdEncoding.EncodeToString([]byte("my resume text"))
	body := `{"filename":"resume.txt","file_content":"` + encoded + `"}`
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/ingest", body, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	job, err := store.ClaimNextJob([]string{storage.JobTypeConsolidate})
	if err != nil || job == nil {
		t.Fatalf("claiming job: %v, job = %v", err, job)
	}
	if !strings.Contains(job.PayloadJSON, "my resume text") {
		t.Errorf("payload = %q, want decoded file text", job.PayloadJSON)
	}
	if !strings.Contains(job.PayloadJSON, `"source":"upload"`) {
		t.Errorf("payload = %q, want upload source for file ingestion", job.PayloadJSON)
	}
}

func TestIngest_FileWithoutFilename(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	body := `{"file_content":"aGVsbG8="}`
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/ingest", body, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestIngest_BadBase64(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	body := `{"filename":"a.txt","file_content":"!!not-base64!!"}`
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/ingest", body, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetMemory(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	engine := memory.NewEngine(store)
	_, err := engine.ConsolidateBatch(context.Background(), "mirek", "text", "hello",
		memory.SourceConversation,
		memory.StyleSignals{ToneFormality: memory.ToneCasual},
		memory.FactExtraction{PersonalInfo: map[string]any{"location": "Prague"}},
	)
	if err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/individuals/mirek/memory", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		Individual string          `json:"individual"`
		Memory     memory.Snapshot `json:"memory"`
		Counts     struct {
			HasStyleProfile bool `json:"has_style_profile"`
			Experiences     int  `json:"experiences"`
			PersonalFacts   int  `json:"personal_facts"`
			Provenance      int  `json:"provenance"`
		} `json:"counts"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	snap := resp.Memory
	if snap.Style == nil || snap.Style.ToneFormality != memory.ToneCasual {
		t.Errorf("style = %+v", snap.Style)
	}
	if len(snap.Facts) != 1 || snap.Facts[0].Key != "location" {
		t.Errorf("facts = %+v", snap.Facts)
	}
	if !resp.Counts.HasStyleProfile || resp.Counts.PersonalFacts != 1 || resp.Counts.Provenance != 1 {
		t.Errorf("counts = %+v", resp.Counts)
	}
}

func TestGetTimeline(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	engine := memory.NewEngine(store)
	if _, err := engine.ConsolidateBatch(context.Background(), "mirek", "text", "hi",
		memory.SourceConversation, memory.StyleSignals{ToneFormality: memory.ToneFormal}, memory.FactExtraction{},
	); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/individuals/mirek/timeline", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		Individual string           `json:"individual"`
		Events     []map[string]any `json:"events"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding timeline: %v", err)
	}
	if resp.Individual != "mirek" {
		t.Errorf("individual = %q", resp.Individual)
	}
	// One style event plus one provenance event.
	if len(resp.Events) != 2 {
		t.Errorf("events = %d, want 2", len(resp.Events))
	}
}

func TestGetTimelineEmpty(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/individuals/nobody/timeline", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"events":[]`) {
		t.Errorf("body = %s, want empty events array", rr.Body.String())
	}
}

func TestReset(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	engine := memory.NewEngine(store)
	if _, err := engine.ConsolidateBatch(context.Background(), "mirek", "text", "hi",
		memory.SourceConversation, memory.StyleSignals{ToneFormality: memory.ToneCasual},
		memory.FactExtraction{PersonalInfo: map[string]any{"location": "Prague"}},
	); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	// Without confirm the reset is rejected and nothing is deleted.
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/reset", `{}`, testToken)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed reset status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodPost, "/individuals/mirek/reset", `{"confirm":true}`, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		Status  string              `json:"status"`
		Deleted storage.ResetCounts `json:"deleted"`
		Total   int                 `json:"total"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "reset" {
		t.Errorf("status = %q", resp.Status)
	}
	// Style profile, one fact, one provenance record.
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}

	snap, err := engine.Snapshot(context.Background(), "mirek")
	if err != nil {
		t.Fatalf("snapshot after reset: %v", err)
	}
	if snap.Style != nil || len(snap.Facts) != 0 || len(snap.Provenance) != 0 {
		t.Errorf("memory survived reset: %+v", snap)
	}
}

func TestGenerate(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	body := `{"request":"write a bio"}`
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/generate", body, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["content"] != "generated text" {
		t.Errorf("content = %q", resp["content"])
	}
}

func TestGenerate_MissingRequest(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/generate", `{}`, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGenerate_UpstreamError(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewAppHandler(AppDeps{
		Jobs:      store,
		Snapshots: memory.NewEngine(store),
		Generator: &fakeGenerator{err: errors.New("model unavailable")},
		Resetter:  store,
		Token:     testToken,
	})

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/individuals/mirek/generate", `{"request":"write"}`, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}
