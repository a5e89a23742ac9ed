package citation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/citation"
)

func TestLookup(t *testing.T) {
	r := chi.NewRouter()
	New(citation.NewIndex(map[string]string{"90.427": "Termination of tenancies."})).RegisterRoutes(r)

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/citation?section=90.427", http.StatusOK, `{"section":"90.427","text":"Termination of tenancies."}`},
		{"/citation?section=1.000", http.StatusNotFound, `{"error":"section not found"}`},
		{"/citation", http.StatusBadRequest, `{"error":"section query parameter is required"}`},
	}
	for _, tc := range tests {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.code, resp.Code, tc.path)
		assert.JSONEq(t, tc.body, resp.Body.String(), tc.path)
	}
}
