package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/pointscape/pointscape/internal/httputil"
	"github.com/pointscape/pointscape/internal/testutil"
)

func TestClientProjectInfo(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"project_name":"Site","scan_count":3}`)
	c := NewClient("http://localhost:8080/", mock)

	info, err := c.ProjectInfo()
	testutil.AssertNoError(t, err)
	if info["project_name"] != "Site" {
		t.Errorf("project_name = %v, want Site", info["project_name"])
	}

	req := mock.GetRequest(0)
	if req == nil || req.URL.String() != "http://localhost:8080/api/project" {
		t.Errorf("unexpected request: %v", req)
	}
}

func TestClientScans(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `[{"scan_id":"s1","name":"station1","state":"loaded"}]`)
	c := NewClient("http://localhost:8080", mock)

	scans, err := c.Scans()
	testutil.AssertNoError(t, err)
	if len(scans) != 1 || scans[0].ID != "s1" || scans[0].State != "loaded" {
		t.Errorf("unexpected scans: %+v", scans)
	}
}

func TestClientLoadScan(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"scan_id":"s1","state":"loaded"}`)
	c := NewClient("http://localhost:8080", mock)

	testutil.AssertNoError(t, c.LoadScan("s1"))
	if mock.RequestCount() != 1 {
		t.Fatalf("request count = %d, want 1", mock.RequestCount())
	}
	req := mock.GetRequest(0)
	if req.Method != http.MethodPost || req.URL.Path != "/api/scans/load" {
		t.Errorf("unexpected request: %s %s", req.Method, req.URL)
	}
}

func TestClientServerError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusInternalServerError, `{"error":"load failed: disk gone"}`)
	c := NewClient("http://localhost:8080", mock)

	err := c.LoadScan("s1")
	testutil.AssertError(t, err)
	if got := err.Error(); got != "POST /api/scans/load: load failed: disk gone" {
		t.Errorf("unexpected error text: %q", got)
	}
}

func TestClientTransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.DefaultError = errors.New("connection refused")
	c := NewClient("http://localhost:8080", mock)

	_, err := c.ProjectInfo()
	testutil.AssertError(t, err)
}
