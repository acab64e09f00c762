package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPEngineIndexDocumentUpserts(t *testing.T) {
	var gotPath, gotQuery, gotMethod string
	var gotBody Document

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, "secret", 5*time.Second)
	doc := Document{ID: "42", TalkgroupTag: "Dispatch"}
	if err := e.IndexDocument(context.Background(), "calls", doc); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/collections/calls/documents" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "action=upsert" {
		t.Errorf("query = %q, want action=upsert", gotQuery)
	}
	if gotBody.ID != "42" {
		t.Errorf("body id = %q", gotBody.ID)
	}
}

func TestHTTPEngineIndexExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/known" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, "", time.Second)
	exists, err := e.IndexExists(context.Background(), "known")
	if err != nil {
		t.Fatalf("IndexExists: %v", err)
	}
	if !exists {
		t.Error("expected known collection to exist")
	}

	exists, err = e.IndexExists(context.Background(), "missing")
	if err != nil {
		t.Fatalf("IndexExists: %v", err)
	}
	if exists {
		t.Error("expected missing collection to not exist")
	}
}

func TestHTTPEngineCreateOrUpdateIndexSkipsExisting(t *testing.T) {
	createCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		createCalls++
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, "", time.Second)
	if err := e.CreateOrUpdateIndex(context.Background(), "calls"); err != nil {
		t.Fatalf("CreateOrUpdateIndex: %v", err)
	}
	if createCalls != 0 {
		t.Errorf("expected no create call for existing collection, got %d", createCalls)
	}
}

func TestHTTPEngineCreateOrUpdateIndexCreatesMissing(t *testing.T) {
	var gotSchema map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotSchema)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, "", time.Second)
	if err := e.CreateOrUpdateIndex(context.Background(), "calls"); err != nil {
		t.Fatalf("CreateOrUpdateIndex: %v", err)
	}
	if gotSchema["name"] != "calls" {
		t.Errorf("schema name = %v", gotSchema["name"])
	}
	fields, ok := gotSchema["fields"].([]any)
	if !ok || len(fields) == 0 {
		t.Error("expected non-empty fields in schema")
	}
}
