package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--addr", strings.TrimPrefix(srv.URL, "http://")))
	err := root.Execute()
	return out.String(), err
}

func TestCLI_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/connectivity":
			_, _ = w.Write([]byte(`{"connected":true,"transport":"wifi","quality":"excellent","offline_mode":false}`))
		case "/api/v1/queue":
			_, _ = w.Write([]byte(`{"size":3,"in_flight_items":1,"high_priority_count":2,"capacity":100,"summary":"3 items pending sync"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "online via wifi") || !strings.Contains(out, "3 items pending sync") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestCLI_ResolveSurfacesAPIError(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "resolve", "abc")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if gotPath != "/api/v1/errors/abc/resolve" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestCLI_SyncWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Query().Get("wait") != "true" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		_, _ = w.Write([]byte(`{"started":true,"claimed":2,"succeeded":2}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "sync", "--wait")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, `"claimed": 2`) {
		t.Fatalf("expected pretty-printed result, got:\n%s", out)
	}
}
