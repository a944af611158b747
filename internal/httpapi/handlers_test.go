package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"idcheck.org/internal/auth"
	"idcheck.org/internal/checker"
	"idcheck.org/internal/idcard"
	"idcheck.org/internal/validationlog"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

var testNow = time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)

const testBootstrap = "test-bootstrap"

var bootstrapHeaders = map[string]string{bootstrapHeader: testBootstrap}

func newTestAPI(t *testing.T, store validationlog.Store) *apiClient {
	t.Helper()

	if store == nil {
		store = validationlog.NewInMemory()
	}
	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	svc := checker.New(store, checker.WithClock(func() time.Time { return testNow }))
	api := New(svc,
		WithIssuer(issuer),
		WithTokenBootstrap(testBootstrap),
		WithRateLimit(100, 100),
		WithVersion("test", "abc123"),
		WithClock(func() time.Time { return testNow }),
	)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) obtainToken(user string, roles []string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, bootstrapHeaders)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected %d, got %d", want, resp.StatusCode)
	}
}

func TestValidateDoesNotPersist(t *testing.T) {
	store := validationlog.NewInMemory()
	api := newTestAPI(t, store)

	resp := api.post("/v1/idcards/validate", map[string]any{"number": "11010519491231002X"}, nil)
	expectStatus(t, resp, http.StatusOK)
	v := decode[checker.Verdict](t, resp)
	if !v.Valid || v.Birthday != "1949-12-31" || v.Gender == nil || v.Gender.String() != "female" {
		t.Fatalf("unexpected verdict: %+v", v)
	}

	resp = api.post("/v1/idcards/validate", map[string]any{"number": "11010519491399001X"}, nil)
	expectStatus(t, resp, http.StatusOK)
	v = decode[checker.Verdict](t, resp)
	if v.Valid || v.Reason != "impossible_date" {
		t.Fatalf("unexpected verdict: %+v", v)
	}

	st, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 0 {
		t.Fatalf("validate must not persist, total=%d", st.Total)
	}
}

func TestValidateRejectsBadBodies(t *testing.T) {
	api := newTestAPI(t, nil)
	for name, body := range map[string]any{
		"empty number":  map[string]any{"number": "  "},
		"unknown field": map[string]any{"number": "11010519491231002X", "extra": 1},
	} {
		resp := api.post("/v1/idcards/validate", body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestCheckFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	user := api.obtainToken("alice", []string{"auditor"})

	var ids []string
	for i := 0; i < 3; i++ {
		resp := api.post("/v1/idcards/check", map[string]any{
			"number":          "11010519491231002X",
			"validation_type": "two_element",
			"source":          "web_form",
			"details":         map[string]any{"score": 97},
		}, user)
		expectStatus(t, resp, http.StatusCreated)
		if resp.Header.Get("Location") == "" {
			t.Fatalf("missing Location header")
		}
		reply := decode[checker.CheckReply](t, resp)
		if !reply.Valid || reply.Record.Actor != "alice" || reply.Record.ID == "" {
			t.Fatalf("unexpected reply: %+v", reply)
		}
		ids = append(ids, string(reply.Record.ID))
	}

	resp := api.post("/v1/idcards/check", map[string]any{"number": "440302198802034567"}, nil)
	expectStatus(t, resp, http.StatusCreated)
	invalid := decode[checker.CheckReply](t, resp)
	if invalid.Valid || invalid.Reason != "checksum_mismatch" || invalid.Record.Actor != "" {
		t.Fatalf("unexpected reply: %+v", invalid)
	}

	resp = api.get("/v1/validation-logs/by-number/11010519491231002X", nil, user)
	expectStatus(t, resp, http.StatusOK)
	history := decode[recordsResponse](t, resp)
	if len(history.Items) != 3 {
		t.Fatalf("expected 3 records, got %d", len(history.Items))
	}
	for i, rec := range history.Items {
		if string(rec.ID) != ids[len(ids)-1-i] {
			t.Fatalf("history not newest first at %d", i)
		}
	}

	resp = api.get("/v1/validation-logs/stats", nil, user)
	expectStatus(t, resp, http.StatusOK)
	st := decode[validationlog.Stats](t, resp)
	if st != (validationlog.Stats{Valid: 3, Invalid: 1, Total: 4}) {
		t.Fatalf("unexpected stats: %+v", st)
	}

	resp = api.get("/v1/validation-logs/recent", url.Values{"limit": {"2"}}, user)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[recordsResponse](t, resp); len(got.Items) != 2 {
		t.Fatalf("expected 2 recent records, got %d", len(got.Items))
	}

	resp = api.get("/v1/validation-logs/by-actor/alice", nil, user)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[recordsResponse](t, resp); len(got.Items) != 3 {
		t.Fatalf("expected 3 records for alice, got %d", len(got.Items))
	}

	resp = api.get("/v1/validation-logs", url.Values{"valid": {"false"}}, user)
	expectStatus(t, resp, http.StatusOK)
	page := decode[listResponse](t, resp)
	if page.Total != 1 || len(page.Items) != 1 || page.Limit != validationlog.DefaultPageSize {
		t.Fatalf("unexpected page: %+v", page)
	}

	resp = api.get("/v1/validation-logs/"+ids[0], nil, user)
	expectStatus(t, resp, http.StatusOK)
	if rec := decode[validationlog.Record](t, resp); string(rec.ID) != ids[0] {
		t.Fatalf("unexpected record %s", rec.ID)
	}

	resp = api.get("/v1/validation-logs/does-not-exist", nil, user)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestListRejectsBadFilters(t *testing.T) {
	api := newTestAPI(t, nil)
	user := api.obtainToken("alice", []string{"auditor"})
	for _, q := range []url.Values{
		{"valid": {"maybe"}},
		{"gender": {"7"}},
		{"created_from": {"yesterday"}},
		{"limit": {"0"}},
		{"offset": {"-1"}},
		{"created_from": {"2024-05-02"}, "created_to": {"2024-05-01"}},
	} {
		resp := api.get("/v1/validation-logs", q, user)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestCheckRejectsUnstorableText(t *testing.T) {
	api := newTestAPI(t, nil)
	for _, body := range []map[string]any{
		{"number": "\u0000"},
		{"number": "11010519491231002X", "details": map[string]any{"note": "a\u0000b"}},
		{"number": "11010519491231002X", "source": "web\u0000form"},
	} {
		resp := api.post("/v1/idcards/check", body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestParseFilterListsGenders(t *testing.T) {
	_, err := parseFilter(url.Values{"gender": {"7"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if want := `gender "7" is not one of unknown, male, female, unspecified`; err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}

	f, err := parseFilter(url.Values{"gender": {"female"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Gender == nil || *f.Gender != idcard.GenderFemale {
		t.Fatalf("unexpected gender %v", f.Gender)
	}
}

func TestCorrectRequiresAdmin(t *testing.T) {
	api := newTestAPI(t, nil)
	auditor := api.obtainToken("alice", []string{"auditor"})
	admin := api.obtainToken("root", []string{"admin"})

	resp := api.post("/v1/idcards/check", map[string]any{"number": "110105199003071239", "source": "web_form"}, nil)
	expectStatus(t, resp, http.StatusCreated)
	rec := decode[checker.CheckReply](t, resp).Record
	path := "/v1/validation-logs/" + string(rec.ID)

	resp = api.do(http.MethodPatch, path, map[string]any{"source": "admin_panel"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.do(http.MethodPatch, path, map[string]any{"source": "admin_panel"}, auditor)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodPatch, path, map[string]any{
		"source":              "admin_panel",
		"expected_updated_at": rec.UpdatedAt,
	}, admin)
	expectStatus(t, resp, http.StatusOK)
	updated := decode[validationlog.Record](t, resp)
	if updated.Source != "admin_panel" || updated.Number != rec.Number {
		t.Fatalf("unexpected record: %+v", updated)
	}

	resp = api.do(http.MethodPatch, path, map[string]any{
		"source":              "web_form",
		"expected_updated_at": rec.UpdatedAt.Add(-time.Hour),
	}, admin)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.do(http.MethodPatch, path, map[string]any{}, admin)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, path, nil, admin)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.get("/v1/validation-logs/stats", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" || errBody["request_id"] == "" {
		t.Fatalf("expected error message and request id: %v", errBody)
	}

	resp2 := api.get("/v1/validation-logs/stats", nil, map[string]string{"Authorization": "Bearer nope"})
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp2.StatusCode)
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t, nil)

	cases := []map[string]any{
		{"user": ""},
		{"user": "alice", "roles": []string{" "}},
		{"user": "alice", "roles": []string{"superuser"}},
		{"user": "alice", "roles": []string{"auditor"}, "ttl_seconds": 5},
		{"user": "alice", "roles": []string{"auditor"}, "ttl_seconds": 86400},
	}
	for _, body := range cases {
		resp := api.post("/v1/auth/token", body, bootstrapHeaders)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, resp.StatusCode)
		}
	}

	resp := api.post("/v1/auth/token", map[string]any{"user": "alice", "roles": []string{"Auditor"}, "ttl_seconds": 120}, bootstrapHeaders)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Token == "" || out.ExpiresAt.IsZero() {
		t.Fatalf("unexpected token response %+v", out)
	}
}

func TestTokenEndpointRequiresBootstrapSecret(t *testing.T) {
	api := newTestAPI(t, nil)
	body := map[string]any{"user": "mallory", "roles": []string{"admin"}}

	for _, headers := range []map[string]string{
		nil,
		{bootstrapHeader: ""},
		{bootstrapHeader: "test-bootstrap-x"},
		{bootstrapHeader: "test"},
	} {
		resp := api.post("/v1/auth/token", body, headers)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%v: expected 401, got %d", headers, resp.StatusCode)
		}
	}

	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	srv := httptest.NewServer(New(checker.New(validationlog.NewInMemory()), WithIssuer(issuer)).Handler())
	t.Cleanup(srv.Close)
	resp, err := srv.Client().Post(srv.URL+"/v1/auth/token", "application/json", bytes.NewReader([]byte(`{"user":"a","roles":["admin"]}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("token endpoint should be absent without a bootstrap secret, got %d", resp.StatusCode)
	}
}

func TestOpenModeWithoutIssuer(t *testing.T) {
	svc := checker.New(validationlog.NewInMemory())
	srv := httptest.NewServer(New(svc).Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/v1/validation-logs/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected open reads, got %d", resp.StatusCode)
	}

	resp, err = srv.Client().Post(srv.URL+"/v1/auth/token", "application/json", bytes.NewReader([]byte(`{"user":"a","roles":["admin"]}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("token endpoint should be absent, got %d", resp.StatusCode)
	}
}

type unavailableStore struct {
	validationlog.Store
}

func (unavailableStore) Append(context.Context, validationlog.Record) (validationlog.ID, error) {
	return "", validationlog.ErrPersistenceUnavailable
}

func (unavailableStore) Ping(context.Context) error { return validationlog.ErrPersistenceUnavailable }

func TestStoreUnavailable(t *testing.T) {
	api := newTestAPI(t, unavailableStore{})

	resp := api.post("/v1/idcards/check", map[string]any{"number": "11010519491231002X"}, nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()

	resp = api.get("/readyz", nil, nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]any](t, resp); body["version"] != "test" {
		t.Fatalf("unexpected health body: %v", body)
	}

	resp = api.get("/readyz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/info", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["commit"] != "abc123" || body["time"] != testNow.Format(time.RFC3339) {
		t.Fatalf("unexpected info body: %v", body)
	}
}
