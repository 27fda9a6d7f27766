package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
)

func TestCreateTargetRequestValidation(t *testing.T) {
	v := validator.New()

	valid := createTargetRequest{
		DisplayName: "example",
		RootDomain:  "example.com",
		Scope:       domain.ScopePolicy{Entries: []domain.ScopeEntry{{Kind: domain.ScopeDNSSuffix, Value: "example.com"}}},
	}
	if err := v.Struct(valid); err != nil {
		t.Errorf("expected valid request to pass, got %v", err)
	}

	missing := createTargetRequest{RootDomain: "example.com", Scope: valid.Scope}
	if err := v.Struct(missing); err == nil {
		t.Error("expected missing display_name to fail validation")
	}
}

func TestCreateScheduleRequestValidation(t *testing.T) {
	v := validator.New()

	if err := v.Struct(createScheduleRequest{IntervalSeconds: 0}); err == nil {
		t.Error("expected zero interval_seconds to fail validation")
	}
	if err := v.Struct(createScheduleRequest{IntervalSeconds: 3600}); err != nil {
		t.Errorf("expected positive interval_seconds to pass, got %v", err)
	}
}

func TestRespondStoreErrMapsNotFoundTo404(t *testing.T) {
	w := httptest.NewRecorder()
	respondStoreErr(w, errs.ErrNotFound)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRespondStoreErrMapsOtherErrorsTo500(t *testing.T) {
	w := httptest.NewRecorder()
	respondStoreErr(w, errors.New("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestWriteJSONSetsContentTypeAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"ok": "true"})
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected json content type, got %q", ct)
	}
}

func TestNewRouterRegistersContractRoutes(t *testing.T) {
	s := &Server{validate: validator.New()}
	router := NewRouter(s, []string{"*"}).(chi.Router)

	want := map[string]bool{
		"POST /api/targets/":                               false,
		"GET /api/targets/":                                false,
		"POST /api/targets/{targetID}/pipeline":             false,
		"GET /api/targets/{targetID}/runs":                  false,
		"GET /api/runs/{runID}":                              false,
		"POST /api/runs/{runID}/discard":                     false,
		"POST /api/targets/{targetID}/runs/{runID}/verify":   false,
		"GET /api/targets/{targetID}/assets":                 false,
		"GET /api/targets/{targetID}/services":               false,
		"GET /api/targets/{targetID}/edges":                  false,
		"GET /api/targets/{targetID}/findings":               false,
		"GET /api/targets/{targetID}/scans":                  false,
		"GET /api/targets/{targetID}/changes":                false,
		"POST /api/targets/{targetID}/schedules":             false,
		"GET /api/targets/{targetID}/schedules":              false,
	}

	_ = chi.Walk(router, func(method, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		key := method + " " + route
		if _, ok := want[key]; ok {
			want[key] = true
		}
		return nil
	})

	for route, found := range want {
		if !found {
			t.Errorf("expected route %q to be registered", route)
		}
	}
}
