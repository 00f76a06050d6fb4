package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

// maxReceiptsPerRequest is the gateway's single-shot capacity, per
// spec.md §4.6.
const maxReceiptsPerRequest = 25_000

// receiptRecordSize is the encoded size of one receipt: 33-byte fees +
// 59-byte id + 65-byte signature, per spec.md §6.
const receiptRecordSize = 33 + 59 + 65

// Gateway talks to one collector base URL's derived
// collect-receipts/partial-voucher/voucher endpoints, per spec.md §6.
type Gateway struct {
	baseURL string
	http    *http.Client
}

// NewGateway creates a Gateway against baseURL.
func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	return &Gateway{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (g *Gateway) derivedURL(name string) (string, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(path.Dir(u.Path), name)
	return u.String(), nil
}

// voucherResponse is the gateway's response to collect-receipts,
// partial-voucher, and voucher, per spec.md §6: either `fees` or
// `amount` must be present; the decoder reconciles to `fees`.
type voucherResponse struct {
	Allocation string  `json:"allocation"`
	Fees       *string `json:"fees"`
	Amount     *string `json:"amount"`
	Signature  *string `json:"signature"`
}

func (r voucherResponse) toVoucher(network string) (types.Voucher, error) {
	fees := r.Fees
	if fees == nil {
		fees = r.Amount
	}
	if fees == nil || r.Allocation == "" || r.Signature == nil {
		return types.Voucher{}, fmt.Errorf("failed to parse response")
	}
	return types.Voucher{
		Allocation:      common.HexToAddress(r.Allocation),
		Amount:          *fees,
		Signature:       *r.Signature,
		ProtocolNetwork: network,
	}, nil
}

// EncodeReceipts produces the bit-exact buffer of spec.md §6: 20-byte
// allocation address, then receiptRecordSize bytes per receipt ordered
// as given (callers must already have sorted by id).
func EncodeReceipts(allocation common.Address, batch []types.AllocationReceipt) ([]byte, error) {
	buf := make([]byte, 0, 20+receiptRecordSize*len(batch))
	buf = append(buf, allocation.Bytes()...)

	for _, r := range batch {
		feesBytes, err := encodeFees33(r.Fees)
		if err != nil {
			return nil, err
		}
		idBytes := encodeID59(r.ID)
		buf = append(buf, feesBytes[:]...)
		buf = append(buf, idBytes[:]...)
		buf = append(buf, r.Signature[:]...)
	}

	return buf, nil
}

// encodeFees33 left-pads fees to exactly 33 big-endian bytes.
func encodeFees33(fees *big.Int) ([33]byte, error) {
	var out [33]byte
	if fees == nil {
		return out, fmt.Errorf("receipt fees must not be nil")
	}
	b := fees.Bytes()
	if len(b) > 33 {
		return out, fmt.Errorf("fees value %s exceeds 33 bytes", fees.String())
	}
	copy(out[33-len(b):], b)
	return out, nil
}

// encodeID59 left-pads (or truncates; ids are generated, never
// attacker-controlled) a receipt id string to exactly 59 bytes.
func encodeID59(id string) [59]byte {
	var out [59]byte
	b := []byte(id)
	if len(b) > 59 {
		b = b[:59]
	}
	copy(out[59-len(b):], b)
	return out
}

// CollectReceipts POSTs a single-shot encoded receipts buffer, for
// batches of at most maxReceiptsPerRequest, per spec.md §4.6.
func (g *Gateway) CollectReceipts(ctx context.Context, allocation common.Address, network string, batch []types.AllocationReceipt) (types.Voucher, error) {
	buf, err := EncodeReceipts(allocation, batch)
	if err != nil {
		return types.Voucher{}, err
	}

	resp, err := g.postBinary(ctx, "collect-receipts", buf)
	if err != nil {
		return types.Voucher{}, err
	}
	return resp.toVoucher(network)
}

// CollectPartialVoucher POSTs one chunk of an over-capacity batch to
// partial-voucher and returns the resulting PartialVoucher.
func (g *Gateway) CollectPartialVoucher(ctx context.Context, allocation common.Address, chunk []types.AllocationReceipt) (types.PartialVoucher, error) {
	buf, err := EncodeReceipts(allocation, chunk)
	if err != nil {
		return types.PartialVoucher{}, err
	}

	resp, err := g.postBinary(ctx, "partial-voucher", buf)
	if err != nil {
		return types.PartialVoucher{}, err
	}

	fees := resp.Fees
	if fees == nil {
		fees = resp.Amount
	}
	if fees == nil || resp.Signature == nil {
		return types.PartialVoucher{}, fmt.Errorf("failed to parse response")
	}

	return types.PartialVoucher{
		Allocation:   allocation,
		Fees:         *fees,
		Signature:    *resp.Signature,
		ReceiptIDMin: chunk[0].ID,
		ReceiptIDMax: chunk[len(chunk)-1].ID,
	}, nil
}

// ReconcilePartialVouchers POSTs the JSON reconciliation body to
// voucher and returns the final Voucher.
func (g *Gateway) ReconcilePartialVouchers(ctx context.Context, allocation common.Address, network string, partials []types.PartialVoucher) (types.Voucher, error) {
	if _, err := types.EncodePartialVouchers(partials); err != nil {
		return types.Voucher{}, err
	}

	body := struct {
		Allocation      string                 `json:"allocation"`
		PartialVouchers []types.PartialVoucher `json:"partialVouchers"`
	}{Allocation: allocation.Hex(), PartialVouchers: partials}

	payload, err := json.Marshal(body)
	if err != nil {
		return types.Voucher{}, err
	}

	resp, err := g.postJSON(ctx, "voucher", payload)
	if err != nil {
		return types.Voucher{}, err
	}
	return resp.toVoucher(network)
}

// ObtainReceiptsVoucher implements spec.md §4.6 obtainReceiptsVoucher:
// single-shot for batches at or under capacity, chunked
// partial-voucher/voucher flow otherwise.
func (g *Gateway) ObtainReceiptsVoucher(ctx context.Context, allocation common.Address, network string, batch []types.AllocationReceipt) (types.Voucher, error) {
	if len(batch) <= maxReceiptsPerRequest {
		return g.CollectReceipts(ctx, allocation, network, batch)
	}

	var partials []types.PartialVoucher
	for start := 0; start < len(batch); start += maxReceiptsPerRequest {
		end := start + maxReceiptsPerRequest
		if end > len(batch) {
			end = len(batch)
		}
		pv, err := g.CollectPartialVoucher(ctx, allocation, batch[start:end])
		if err != nil {
			return types.Voucher{}, err
		}
		partials = append(partials, pv)
	}

	return g.ReconcilePartialVouchers(ctx, allocation, network, partials)
}

func (g *Gateway) postBinary(ctx context.Context, name string, body []byte) (voucherResponse, error) {
	u, err := g.derivedURL(name)
	if err != nil {
		return voucherResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return voucherResponse{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return g.do(req)
}

func (g *Gateway) postJSON(ctx context.Context, name string, body []byte) (voucherResponse, error) {
	u, err := g.derivedURL(name)
	if err != nil {
		return voucherResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return voucherResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req)
}

func (g *Gateway) do(req *http.Request) (voucherResponse, error) {
	resp, err := g.http.Do(req)
	if err != nil {
		return voucherResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return voucherResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return voucherResponse{}, fmt.Errorf("gateway request failed with status %d: %s", resp.StatusCode, string(data))
	}

	var out voucherResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return voucherResponse{}, fmt.Errorf("failed to parse response")
	}
	return out, nil
}
