package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/querydesc/apps/api/echo"
	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
	searchsvc "github.com/trezcool/querydesc/services/search"
	inmemdb "github.com/trezcool/querydesc/storage/database/inmem"
	"github.com/trezcool/querydesc/tests"
)

var (
	conf   *core.Config
	logger *testutil.Logger

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

// searchBackend answers every search endpoint with one result echoing the descriptor window.
func searchBackend(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d querydesc.Descriptor
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Path == "/searchCourse" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"results":    []interface{}{map[string]interface{}{"datasource": d.Root.Datasource, "auth": r.Header.Get("Authorization")}},
				"totalCount": 1,
				"limit":      d.Limit,
				"offset":     d.Offset,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setup(t *testing.T) Server {
	conf = &core.Config{
		Env:       "TEST",
		TestMode:  true,
		AppName:   "Querydesc",
		SecretKey: "secret",
	}
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Search.BackendURL = searchBackend(t).URL
	conf.Search.Timeout = time.Second
	conf.Search.Endpoints = []string{"searchRecord", "searchCourse"}

	validate, translator := testutil.NewValidator()
	querydesc.InitValidators(validate, translator, 0)
	logger = testutil.NewLogger()

	querySvc := querydesc.NewService(
		inmemdb.NewSessionRepository(inmemdb.Open()),
		querydesc.NewStore(logger),
		searchsvc.NewClient(conf, logger),
		validate,
		logger,
	)

	return NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		QuerySvc:       querySvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	header   map[string]string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func getToken(t *testing.T, subject string, roles ...string) string {
	claims := NewClaims(conf, subject, subject, subject+"@test.cd", roles...)
	token, err := GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshalSession(t *testing.T, rec *httptest.ResponseRecorder) querydesc.Session {
	var sess querydesc.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("unmarshalSession() failed: %v; body %s", err, rec.Body.String())
	}
	return sess
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app Server, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
