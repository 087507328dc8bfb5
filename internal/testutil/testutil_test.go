package testutil

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200},
		{name: "different status codes", expected: 200, actual: 404, shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name           string
		jsonBody       string
		expectedStatus string
		shouldFail     bool
	}{
		{name: "matching status", jsonBody: `{"status":"ok","result":{"robots":[]}}`, expectedStatus: "ok"},
		{name: "different status", jsonBody: `{"status":"error","message":"x"}`, expectedStatus: "ok", shouldFail: true},
		{name: "invalid JSON", jsonBody: `{"status":}`, expectedStatus: "ok", shouldFail: true},
		{name: "missing status field", jsonBody: `{"result":"test"}`, expectedStatus: "ok", shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)

			defer func() {
				if r := recover(); r != nil && !tt.shouldFail {
					t.Errorf("unexpected panic: %v", r)
				}
			}()

			response := AssertJSONResponse(mockT, rr, tt.expectedStatus)
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
			if !tt.shouldFail && response == nil {
				t.Error("expected response map to be returned")
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, "GET", "/robots?page=DASHBOARD", nil)
	if req.Method != "GET" || req.URL.Path != "/robots" || req.URL.Query().Get("page") != "DASHBOARD" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
	}
	if req.Header.Get("Content-Type") != "" {
		t.Error("bodiless request must not declare a content type")
	}

	req = CreateHTTPRequest(t, "PUT", "/treatment-timeline-robot-status", map[string]interface{}{"is_robot_read": true})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %q", req.Header.Get("Content-Type"))
	}
	if req.ContentLength == 0 {
		t.Error("expected a request body")
	}
}

func TestSignToken(t *testing.T) {
	now := time.Now()
	token := SignToken(t, "secret", "u1", "admin", now)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token did not verify: %v", err)
	}
	if claims["sub"] != "u1" || claims["role"] != "admin" {
		t.Errorf("unexpected claims %v", claims)
	}

	req := WithBearer(CreateHTTPRequest(t, "GET", "/robots", nil), token)
	if req.Header.Get("Authorization") != "Bearer "+token {
		t.Error("bearer header not set")
	}
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	clock := FixedClock(at)
	if !clock().Equal(at) || !clock().Equal(at) {
		t.Error("fixed clock drifted")
	}
}

func TestMustMarshalJSON(t *testing.T) {
	data := MustMarshalJSON(t, map[string]string{"key": "value"})
	if string(data) != `{"key":"value"}` {
		t.Errorf("unexpected JSON %s", data)
	}

	mockT := &mockTestingT{}
	func() {
		defer func() { _ = recover() }()
		MustMarshalJSON(mockT, make(chan int))
	}()
	if !mockT.failed {
		t.Error("expected marshal failure to be reported")
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	var out map[string]string
	MustUnmarshalJSON(t, []byte(`{"key":"value"}`), &out)
	if out["key"] != "value" {
		t.Errorf("unexpected value %v", out)
	}

	mockT := &mockTestingT{}
	func() {
		defer func() { _ = recover() }()
		MustUnmarshalJSON(mockT, []byte(`{`), &out)
	}()
	if !mockT.failed {
		t.Error("expected unmarshal failure to be reported")
	}
}

// mockTestingT implements TB for testing the helpers themselves.
type mockTestingT struct {
	failed   bool
	errorMsg string
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
	panic("test failed") // Simulate fatal error
}
