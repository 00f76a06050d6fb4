package ierrors_test

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
)

func TestNew_FormatsCodeAndMessage(t *testing.T) {
	g := NewWithT(t)

	err := ierrors.New("IE075", "target QmFoo after 2 iterations", nil)
	g.Expect(err.Error()).To(ContainSubstring("IE075"))
	g.Expect(err.Error()).To(ContainSubstring("target QmFoo after 2 iterations"))
	g.Expect(err.Disposition()).To(Equal(ierrors.DispositionInvariant))
}

func TestNew_UnwrapsCause(t *testing.T) {
	g := NewWithT(t)

	cause := errors.New("underlying failure")
	err := ierrors.New("IE055", "", cause)

	g.Expect(errors.Unwrap(err)).To(Equal(cause))
	g.Expect(errors.Is(err, cause)).To(BeTrue())
}

func TestNew_UnknownCodePanics(t *testing.T) {
	g := NewWithT(t)

	g.Expect(func() { ierrors.New("IE999", "", nil) }).To(Panic())
}

func TestWithPayload_RoundTrips(t *testing.T) {
	g := NewWithT(t)

	type lineage struct{ Target string }
	err := ierrors.New("IE075", "", nil).WithPayload(lineage{Target: "QmFoo"})
	g.Expect(err.Payload).To(Equal(lineage{Target: "QmFoo"}))
}
