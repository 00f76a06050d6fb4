package types_test

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/ethereum/go-ethereum/common"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

func TestEncodePartialVouchers_SingleAllocationSucceeds(t *testing.T) {
	g := NewWithT(t)

	alloc := common.HexToAddress("0x1111111111111111111111111111111111111111")
	vs := []types.PartialVoucher{
		{Allocation: alloc, Fees: "1"},
		{Allocation: alloc, Fees: "2"},
	}

	got, err := types.EncodePartialVouchers(vs)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got).To(Equal(alloc))
}

func TestEncodePartialVouchers_MultipleAllocationsFails(t *testing.T) {
	g := NewWithT(t)

	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")
	vs := []types.PartialVoucher{{Allocation: a}, {Allocation: b}}

	_, err := types.EncodePartialVouchers(vs)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("'2' unique allocations represented"))
}
