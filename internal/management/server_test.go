package management_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/management"
)

type fakeServer struct{}

func (fakeServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMount_AppliesCORSAndServesUnderPath(t *testing.T) {
	g := NewWithT(t)

	mux := http.NewServeMux()
	management.Mount(mux, "/management", fakeServer{}, []string{"https://example.com"})

	req := httptest.NewRequest(http.MethodGet, "/management", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://example.com"))
}
