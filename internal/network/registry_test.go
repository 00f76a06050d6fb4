package network

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry[int]()
	g.Expect(r.Register("eip155:1", 1)).To(Succeed())

	v, err := r.Get("eip155:1")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal(1))
}

func TestRegistry_RegisterRejectsDuplicateKey(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry[int]()
	g.Expect(r.Register("eip155:1", 1)).To(Succeed())
	g.Expect(r.Register("eip155:1", 2)).To(HaveOccurred())
}

func TestRegistry_GetUnknownKeyFails(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry[int]()
	_, err := r.Get("eip155:100")
	g.Expect(err).To(HaveOccurred())
}

func TestRegistry_ForEachVisitsEveryEntry(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry[int]()
	g.Expect(r.Register("eip155:1", 1)).To(Succeed())
	g.Expect(r.Register("eip155:100", 2)).To(Succeed())

	seen := map[string]int{}
	r.ForEach(func(k string, v int) { seen[k] = v })

	g.Expect(seen).To(HaveLen(2))
	g.Expect(seen["eip155:1"]).To(Equal(1))
	g.Expect(seen["eip155:100"]).To(Equal(2))
}

func TestRegistry_NetworksListsRegisteredKeys(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry[int]()
	g.Expect(r.Register("eip155:1", 1)).To(Succeed())
	g.Expect(r.Networks()).To(ConsistOf("eip155:1"))
}
