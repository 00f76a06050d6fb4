package receipts

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/gomega"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

func TestEncodeReceipts_ProducesBitExactLayout(t *testing.T) {
	g := NewWithT(t)

	allocation := common.HexToAddress("0xabc0000000000000000000000000000000000a")
	receipt := types.AllocationReceipt{
		ID:   "r1",
		Fees: big.NewInt(42),
	}
	receipt.Signature[0] = 0xaa
	receipt.Signature[64] = 0xbb

	buf, err := EncodeReceipts(allocation, []types.AllocationReceipt{receipt})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(buf).To(HaveLen(20 + receiptRecordSize))
	g.Expect(buf[:20]).To(Equal(allocation.Bytes()))

	feesField := buf[20:53]
	g.Expect(feesField[32]).To(Equal(byte(42)))
	for _, b := range feesField[:32] {
		g.Expect(b).To(Equal(byte(0)))
	}

	idField := buf[53:112]
	g.Expect(string(idField[57:])).To(Equal("r1"))

	sigField := buf[112:177]
	g.Expect(sigField[0]).To(Equal(byte(0xaa)))
	g.Expect(sigField[64]).To(Equal(byte(0xbb)))
}

func TestEncodeReceipts_RejectsNilFees(t *testing.T) {
	g := NewWithT(t)

	_, err := EncodeReceipts(common.Address{}, []types.AllocationReceipt{{ID: "r1"}})
	g.Expect(err).To(HaveOccurred())
}

func TestGateway_CollectReceipts_ParsesFeesOrAmount(t *testing.T) {
	g := NewWithT(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.Expect(r.URL.Path).To(Equal("/collect-receipts"))
		body, err := io.ReadAll(r.Body)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(len(body)).To(Equal(20 + receiptRecordSize))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"allocation": "0x0000000000000000000000000000000000000a",
			"amount":     "1000",
			"signature":  "0xdeadbeef",
		})
	}))
	defer server.Close()

	gw := NewGateway(server.URL+"/ignored", time.Second)
	receipt := types.AllocationReceipt{ID: "r1", Fees: big.NewInt(42)}

	voucher, err := gw.CollectReceipts(context.Background(), common.HexToAddress("0xa"), "eip155:1", []types.AllocationReceipt{receipt})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(voucher.Amount).To(Equal("1000"))
	g.Expect(voucher.Signature).To(Equal("0xdeadbeef"))
	g.Expect(voucher.ProtocolNetwork).To(Equal("eip155:1"))
}

func TestGateway_CollectReceipts_FailsOnMalformedResponse(t *testing.T) {
	g := NewWithT(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"allocation": "0xa"})
	}))
	defer server.Close()

	gw := NewGateway(server.URL+"/ignored", time.Second)
	receipt := types.AllocationReceipt{ID: "r1", Fees: big.NewInt(42)}

	_, err := gw.CollectReceipts(context.Background(), common.HexToAddress("0xa"), "eip155:1", []types.AllocationReceipt{receipt})
	g.Expect(err).To(HaveOccurred())
}

func TestGateway_ObtainReceiptsVoucher_ChunksOverCapacityBatches(t *testing.T) {
	g := NewWithT(t)

	var partialCalls, voucherCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/partial-voucher":
			partialCalls++
			_ = json.NewEncoder(w).Encode(map[string]string{
				"allocation": "0x000000000000000000000000000000000000aa",
				"fees":       "10",
				"signature":  "0xaa",
			})
		case "/voucher":
			voucherCalls++
			_ = json.NewEncoder(w).Encode(map[string]string{
				"allocation": "0x000000000000000000000000000000000000aa",
				"amount":     "20",
				"signature":  "0xbb",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	gw := NewGateway(server.URL+"/ignored", time.Second)

	batch := make([]types.AllocationReceipt, maxReceiptsPerRequest+1)
	for i := range batch {
		batch[i] = types.AllocationReceipt{ID: "r", Fees: big.NewInt(1)}
	}

	voucher, err := gw.ObtainReceiptsVoucher(context.Background(), common.HexToAddress("0xaa"), "eip155:1", batch)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(partialCalls).To(Equal(2))
	g.Expect(voucherCalls).To(Equal(1))
	g.Expect(voucher.Amount).To(Equal("20"))
}
