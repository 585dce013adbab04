package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dchudnov/campuscall/internal/domain"
)

func TestPostThreadEntry(t *testing.T) {
	var gotPath, gotAuth string
	var gotEntry domain.TranscriptEntry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotEntry); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok123")
	entry := domain.TranscriptEntry{Kind: domain.CallVoice, Outcome: domain.OutcomeConnected, DurationSeconds: 81}
	if err := c.PostThreadEntry(context.Background(), "peer-7", entry); err != nil {
		t.Fatalf("PostThreadEntry: %v", err)
	}
	if gotPath != "/api/threads/peer-7/entries" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("auth = %s", gotAuth)
	}
	if gotEntry != entry {
		t.Errorf("entry = %+v, want %+v", gotEntry, entry)
	}
}

func TestPostThreadEntryRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.PostThreadEntry(context.Background(), "peer-7", domain.TranscriptEntry{})
	if err == nil {
		t.Fatal("non-2xx status must surface as an error")
	}
}

func TestCurrentUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/me" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "u-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	uid, err := c.CurrentUserID(context.Background())
	if err != nil {
		t.Fatalf("CurrentUserID: %v", err)
	}
	if uid != "u-42" {
		t.Errorf("uid = %s, want u-42", uid)
	}
}
