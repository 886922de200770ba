package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/backport-service/internal/queue"
	"go.uber.org/mock/gomock"
)

func TestServer_Health(t *testing.T) {
	srv := NewServer(":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status want 200 got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body.status want ok got %s", body["status"])
	}
}

func TestServer_SubmitAccepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := queue.NewMockStore(ctrl)
	mockStore.EXPECT().
		Enqueue(gomock.Any(), queue.EnqueueParams{
			Repository:   "org/app",
			TargetBranch: "release/2.1",
			FilterQuery:  "label:backport",
			CallbackURL:  "https://hooks.example.com/done",
		}).
		Return(&queue.Job{ID: "j-1", Repository: "org/app", Status: queue.StatusQueued}, nil)

	srv := NewServer(":0", mockStore)

	body := `{"repository":"org/app","targetBranch":"release/2.1",` +
		`"prFilterQuery":"label:backport","callbackUrl":"https://hooks.example.com/done"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleSubmit(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status want 202 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["jobId"] != "j-1" {
		t.Errorf("jobId want j-1 got %s", resp["jobId"])
	}
	if resp["status"] != "queued" {
		t.Errorf("status want queued got %s", resp["status"])
	}
}

func TestServer_SubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing repository", `{"targetBranch":"main","prFilterQuery":"label:x"}`},
		{"bad repository form", `{"repository":"app","targetBranch":"main","prFilterQuery":"label:x"}`},
		{"missing target branch", `{"repository":"org/app","prFilterQuery":"label:x"}`},
		{"missing filter query", `{"repository":"org/app","targetBranch":"main"}`},
		{"bad callback scheme", `{"repository":"org/app","targetBranch":"main","prFilterQuery":"label:x","callbackUrl":"ftp://x"}`},
		{"malformed json", `{"repository":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(":0", nil)
			req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.handleSubmit(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status want 400 got %d", rec.Code)
			}
			var resp struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("code want VALIDATION_ERROR got %s", resp.Error.Code)
			}
			if resp.Error.Message == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestServer_SubmitMethodNotAllowed(t *testing.T) {
	srv := NewServer(":0", nil)
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	srv.handleSubmit(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status want 405 got %d", rec.Code)
	}
}

func TestServer_GetJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mockStore := queue.NewMockStore(ctrl)
	mockStore.EXPECT().
		Get(gomock.Any(), "j-1").
		Return(&queue.Job{
			ID:           "j-1",
			Repository:   "org/app",
			TargetBranch: "release/2.1",
			FilterQuery:  "label:backport",
			Status:       queue.StatusFailed,
			Error:        "cherry-pick conflict on c_A",
			CreatedAt:    now,
			UpdatedAt:    now,
		}, nil)

	srv := NewServer(":0", mockStore)

	req := httptest.NewRequest(http.MethodGet, "/jobs/j-1", nil)
	rec := httptest.NewRecorder()
	srv.handleGet(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", rec.Code)
	}
	var resp jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "j-1" || resp.Status != "failed" {
		t.Errorf("resp = %+v", resp)
	}
	if !strings.Contains(resp.Error, "c_A") {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.CreatedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("createdAt = %q", resp.CreatedAt)
	}
}

func TestServer_GetJobNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := queue.NewMockStore(ctrl)
	mockStore.EXPECT().
		Get(gomock.Any(), "nope").
		Return(nil, queue.ErrNotFound)

	srv := NewServer(":0", mockStore)

	req := httptest.NewRequest(http.MethodGet, "/jobs/nope", nil)
	rec := httptest.NewRecorder()
	srv.handleGet(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status want 404 got %d", rec.Code)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != "NOT_FOUND" {
		t.Errorf("code want NOT_FOUND got %s", resp.Error.Code)
	}
}

func TestServer_GetJobEmptyID(t *testing.T) {
	srv := NewServer(":0", nil)
	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()
	srv.handleGet(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status want 404 got %d", rec.Code)
	}
}
