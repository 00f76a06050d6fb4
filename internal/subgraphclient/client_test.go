package subgraphclient_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/subgraphclient"
)

type fakeChainHead struct {
	heads []uint64
	i     int
}

func (f *fakeChainHead) LatestBlockNumber(ctx context.Context) (uint64, error) {
	h := f.heads[f.i]
	if f.i < len(f.heads)-1 {
		f.i++
	}
	return h, nil
}

func testLogger() logger.Logger { return logger.New("test", "critical") }

func TestCheckedQuery_ReturnsDataWhenFresh(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": {"_meta": {"block": {"number": 100}}, "thing": "value"}}`)
	}))
	defer srv.Close()

	c := subgraphclient.New(srv.URL, &fakeChainHead{heads: []uint64{102}}, 5, 3, time.Millisecond, testLogger())

	var out struct {
		Thing string `json:"thing"`
	}
	err := c.CheckedQuery(context.Background(), `{ thing }`, nil, &out)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out.Thing).To(Equal("value"))
}

func TestCheckedQuery_RetriesWhileStaleThenSucceeds(t *testing.T) {
	g := NewWithT(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		block := 90
		if calls >= 2 {
			block = 100
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data": {"_meta": {"block": {"number": %d}}, "thing": "value"}}`, block)
	}))
	defer srv.Close()

	c := subgraphclient.New(srv.URL, &fakeChainHead{heads: []uint64{100}}, 5, 3, time.Millisecond, testLogger())

	var out struct {
		Thing string `json:"thing"`
	}
	err := c.CheckedQuery(context.Background(), `{ thing }`, nil, &out)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(calls).To(BeNumerically(">=", 2))
}

func TestCheckedQuery_FailsAfterExhaustingRetries(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": {"_meta": {"block": {"number": 10}}, "thing": "value"}}`)
	}))
	defer srv.Close()

	c := subgraphclient.New(srv.URL, &fakeChainHead{heads: []uint64{100}}, 5, 2, time.Millisecond, testLogger())

	var out map[string]interface{}
	err := c.CheckedQuery(context.Background(), `{ thing }`, nil, &out)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("IE024"))
}

func TestCheckedQuery_RejectsResponseMissingMeta(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": {"thing": "value"}}`)
	}))
	defer srv.Close()

	c := subgraphclient.New(srv.URL, &fakeChainHead{heads: []uint64{100}}, 5, 0, time.Millisecond, testLogger())

	var out map[string]interface{}
	err := c.CheckedQuery(context.Background(), `{ thing }`, nil, &out)
	g.Expect(err).To(HaveOccurred())
}
