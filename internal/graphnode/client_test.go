package graphnode_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/graphnode"
	"github.com/graphprotocol/indexer-agent/internal/logger"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

func mustDeploymentID(t *testing.T, tag string) types.SubgraphDeploymentID {
	t.Helper()
	hexDigits := make([]byte, 0, len(tag)*2)
	for i := 0; i < len(tag); i++ {
		hexDigits = append(hexDigits, "0123456789abcdef"[tag[i]>>4], "0123456789abcdef"[tag[i]&0xf])
	}
	s := string(hexDigits)
	for len(s) < 64 {
		s = "0" + s
	}
	id, err := types.NewDeploymentID("0x" + s)
	if err != nil {
		t.Fatalf("invalid test fixture deployment id %q: %v", tag, err)
	}
	return id
}

func testLogger() logger.Logger { return logger.New("test", "critical") }

func TestCreate_TreatsAlreadyExistsAsSuccess(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"message":"subgraph already exists"}}`)
	}))
	defer srv.Close()

	c := graphnode.New(srv.URL, srv.URL, testLogger())
	err := c.Create(context.Background(), "my-subgraph")
	g.Expect(err).NotTo(HaveOccurred())
}

func TestCreate_PropagatesOtherErrorsAsIE020(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"message":"internal error"}}`)
	}))
	defer srv.Close()

	c := graphnode.New(srv.URL, srv.URL, testLogger())
	err := c.Create(context.Background(), "my-subgraph")
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("IE020"))
}

func TestDeploy_MapsNetworkNotSupportedToIE074(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"message":"network not supported"}}`)
	}))
	defer srv.Close()

	c := graphnode.New(srv.URL, srv.URL, testLogger())
	id := mustDeploymentID(t, "target")
	err := c.Deploy(context.Background(), "my-subgraph", id)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("IE074"))
}

func TestReassign_TreatsUnchangedAsSuccess(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"message":"assignment unchanged"}}`)
	}))
	defer srv.Close()

	c := graphnode.New(srv.URL, srv.URL, testLogger())
	id := mustDeploymentID(t, "target")
	err := c.Reassign(context.Background(), id, "node-1")
	g.Expect(err).NotTo(HaveOccurred())
}
