package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func mintToken(t *testing.T, sub, userType string, roles []string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserType: userType,
		Roles:    roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func agencyHeaders(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + mintToken(t, "agent-1", "agency", []string{"agency-user"})}
}

func publicHeaders(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + mintToken(t, "user-1", "public", []string{"public-user"})}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, string(data))
	}
	return envelope.Error.Code
}

func intakeData() map[string]any {
	return map[string]any{
		"firstName":    "Ada",
		"lastName":     "Byron",
		"email":        "ada@example.com",
		"birthDate":    "1815-12-10",
		"dependents":   1,
		"consentGiven": true,
	}
}

func (s *testServer) createIntake(t *testing.T, headers map[string]string) TransactionResponse {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/transactions", map[string]any{
		"definition_key": "case-intake",
		"data":           intakeData(),
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create transaction status %d: %s", res.StatusCode, string(data))
	}
	var txn TransactionResponse
	if err := json.Unmarshal(data, &txn); err != nil {
		t.Fatalf("unmarshal transaction: %v", err)
	}
	return txn
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("records without auth: status %d", res.StatusCode)
	}
}

func TestRecordFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := agencyHeaders(t)

	txn := srv.createIntake(t, headers)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records", map[string]any{
		"definition_key": "case-record",
		"transaction_id": txn.ID,
		"external_id":    "CASE-100",
		"data":           intakeData(),
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create record status %d: %s", res.StatusCode, string(data))
	}
	var rec RecordResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Status != "active" || rec.CreatedFrom != txn.ID || rec.Expires == "" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/records/"+rec.ID, map[string]any{
		"data": map[string]any{"officerNotes": "checked", "riskScore": 4},
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin patch status %d: %s", res.StatusCode, string(data))
	}
	var updated RecordResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal updated record: %v", err)
	}
	if updated.Data["officerNotes"] != "checked" {
		t.Fatalf("admin field not applied: %v", updated.Data)
	}
	if updated.Version != rec.Version+1 {
		t.Fatalf("version %d after update of %d", updated.Version, rec.Version)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records?external_id=CASE-100&page_size=10", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page pagedRecords
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if page.TotalElements != 1 || len(page.Items) != 1 {
		t.Fatalf("list matched %d", page.TotalElements)
	}
}

func TestPublicCallerRestrictions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	agencyH := agencyHeaders(t)
	publicH := publicHeaders(t)

	txn := srv.createIntake(t, publicH)

	// public callers hold no record.create permission
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records", map[string]any{
		"definition_key": "case-record",
		"transaction_id": txn.ID,
		"data":           intakeData(),
	}, publicH)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("public create: status %d code %s", res.StatusCode, errorCode(t, data))
	}

	// a record with admin fields set must hide them from public view
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records", map[string]any{
		"definition_key": "case-record",
		"transaction_id": txn.ID,
		"data": map[string]any{
			"firstName":    "Ada",
			"officerNotes": "sensitive",
			"riskScore":    9,
		},
	}, agencyH)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("agency create status %d: %s", res.StatusCode, string(data))
	}
	var rec RecordResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records/"+rec.ID, nil, publicH)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("public get status %d: %s", res.StatusCode, string(data))
	}
	var view RecordResponse
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatal(err)
	}
	if _, ok := view.Data["officerNotes"]; ok {
		t.Fatalf("officerNotes leaked to public caller: %v", view.Data)
	}
	if _, ok := view.Data["riskScore"]; ok {
		t.Fatalf("riskScore leaked to public caller: %v", view.Data)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := agencyHeaders(t)

	// missing referenced transaction is a dependency failure, not NotFound
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records", map[string]any{
		"definition_key": "case-record",
		"transaction_id": "ghost",
		"data":           intakeData(),
	}, headers)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "dependency_failed" {
		t.Fatalf("missing txn: status %d code %s", res.StatusCode, errorCode(t, data))
	}

	// unknown attribute in the payload
	txn := srv.createIntake(t, headers)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records", map[string]any{
		"definition_key": "case-record",
		"transaction_id": txn.ID,
		"data":           map[string]any{"nickname": "Ada"},
	}, headers)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "unknown_attribute" {
		t.Fatalf("unknown attribute: status %d code %s", res.StatusCode, errorCode(t, data))
	}

	// value of the wrong kind
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/records", map[string]any{
		"definition_key": "case-record",
		"transaction_id": txn.ID,
		"data":           map[string]any{"dependents": "many"},
	}, headers)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "invalid_value" {
		t.Fatalf("invalid value: status %d code %s", res.StatusCode, errorCode(t, data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/records/missing-id", nil, headers)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("missing record: status %d code %s", res.StatusCode, errorCode(t, data))
	}
}

func TestEnumerationVisibility(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	count := func(headers map[string]string) int {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/enumerations/profile-access-levels", nil, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("enumeration status %d: %s", res.StatusCode, string(data))
		}
		var opts []EnumerationOptionResponse
		if err := json.Unmarshal(data, &opts); err != nil {
			t.Fatal(err)
		}
		return len(opts)
	}
	if n := count(publicHeaders(t)); n != 3 {
		t.Fatalf("public sees %d options, want 3", n)
	}
	if n := count(agencyHeaders(t)); n != 4 {
		t.Fatalf("agency sees %d options, want 4", n)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/enumerations/no-such-list", nil, agencyHeaders(t))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown enumeration status %d: %s", res.StatusCode, string(data))
	}
}
