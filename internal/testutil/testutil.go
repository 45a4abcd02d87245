// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pointscape/pointscape/internal/cloud"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// RandomCloud builds a deterministic point cloud of n points with optional
// color and intensity channels, for use as a codec or load fixture.
func RandomCloud(n int, color, intensity bool) *cloud.PointCloud {
	rng := rand.New(rand.NewSource(int64(n)))
	pc := &cloud.PointCloud{HasColor: color, HasIntensity: intensity}
	for i := 0; i < n; i++ {
		pc.XYZ = append(pc.XYZ, rng.Float64()*100, rng.Float64()*100, rng.Float64()*10)
		if color {
			pc.Colors = append(pc.Colors, uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)))
		}
		if intensity {
			pc.Intensity = append(pc.Intensity, rng.Float32())
		}
	}
	return pc
}
