package generichttp

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
)

func TestEndpointsSorted(t *testing.T) {
	noop := func(w http.ResponseWriter, r *http.Request) {}
	rt := RouteTable{
		{Method: http.MethodPost, Path: "/start"}: noop,
		{Method: http.MethodGet, Path: "/gains"}:  noop,
		{Method: http.MethodPost, Path: "/gains"}: noop,
	}
	want := []string{"GET /gains", "POST /gains", "POST /start"}
	if diff := cmp.Diff(want, rt.Endpoints()); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestBindServesEndpointList(t *testing.T) {
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/running"}: GetBool(func() (bool, error) { return true, nil }),
	}
	r := chi.NewRouter()
	rt.Bind(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	var got []string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"GET /running"}, got); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/running", nil))
	var b BoolT
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	if !b.Bool {
		t.Error("expected {\"bool\": true}")
	}
}

func TestSetBoolBadBody(t *testing.T) {
	h := SetBool(func(bool) error { return nil })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 got %d", rec.Code)
	}
}

func TestSetBoolPassesValue(t *testing.T) {
	var got bool
	h := SetBool(func(b bool) error { got = b; return nil })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bool": true}`)))
	if rec.Code != http.StatusOK || !got {
		t.Errorf("expected 200 and true, got %d and %v", rec.Code, got)
	}
}

func TestSetBoolFunctionError(t *testing.T) {
	h := SetBool(func(bool) error { return errors.New("nope") })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bool": false}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 got %d", rec.Code)
	}
}

func TestGetStringError(t *testing.T) {
	h := GetString(func() (string, error) { return "", errors.New("unplugged") })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", rec.Code)
	}
}

func TestReplyJSONUnencodableIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	ReplyJSON(rec, map[string]float64{"x": math.NaN()})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "application/json" {
		t.Errorf("expected a plain text error, got content type %s", ct)
	}
}

func TestActionError(t *testing.T) {
	h := Action(func() error { return errors.New("boom") })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", rec.Code)
	}
}
