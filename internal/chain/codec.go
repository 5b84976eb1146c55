package chain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mesh-marketplace/backend/internal/models"
)

// Program instruction tags (program layout v1).
const (
	instrInitialize byte = 1
	instrRelease    byte = 2
	instrRefund     byte = 3
	instrDispute    byte = 4
	instrResolve    byte = 5
)

const accountLayoutVersion byte = 1

var escrowStatusByCode = map[byte]string{
	0: models.EscrowStatusActive,
	1: models.EscrowStatusCompleted,
	2: models.EscrowStatusRefunded,
	3: models.EscrowStatusDisputed,
	4: models.EscrowStatusSplit,
}

type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) str(s string) {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
	e.buf = append(e.buf, l[:]...)
	e.buf = append(e.buf, s...)
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) byte() byte {
	if d.err != nil || d.off >= len(d.buf) {
		d.fail()
		return 0
	}
	b := d.buf[d.off]
	d.off++
	return b
}

func (d *decoder) u64() uint64 {
	if d.err != nil || d.off+8 > len(d.buf) {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) str() string {
	if d.err != nil || d.off+4 > len(d.buf) {
		d.fail()
		return ""
	}
	l := int(binary.LittleEndian.Uint32(d.buf[d.off:]))
	d.off += 4
	if d.off+l > len(d.buf) {
		d.fail()
		return ""
	}
	s := string(d.buf[d.off : d.off+l])
	d.off += l
	return s
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = fmt.Errorf("truncated account data at offset %d", d.off)
	}
}

func decodeEscrowAccount(address string, data []byte) (*EscrowState, error) {
	d := &decoder{buf: data}
	if v := d.byte(); v != accountLayoutVersion {
		return nil, fmt.Errorf("unsupported escrow account version %d", v)
	}
	status, ok := escrowStatusByCode[d.byte()]
	st := &EscrowState{
		Address:     address,
		IntentID:    d.str(),
		IntentOwner: d.str(),
		Agent:       d.str(),
		Lamports:    int64(d.u64()),
		Status:      status,
		CreatedAt:   time.Unix(int64(d.u64()), 0).UTC(),
		UpdatedAt:   time.Unix(int64(d.u64()), 0).UTC(),
	}
	if d.err != nil {
		return nil, d.err
	}
	if !ok {
		return nil, fmt.Errorf("unknown escrow status code in account %s", address)
	}
	return st, nil
}

func decodeDisputeAccount(address string, data []byte) (*DisputeState, error) {
	d := &decoder{buf: data}
	if v := d.byte(); v != accountLayoutVersion {
		return nil, fmt.Errorf("unsupported dispute account version %d", v)
	}
	statusCode := d.byte()
	st := &DisputeState{
		Address:  address,
		Escrow:   d.str(),
		Disputer: d.str(),
		Reason:   d.str(),
	}
	resCode := d.byte()
	pct := int(d.byte())
	st.CreatedAt = time.Unix(int64(d.u64()), 0).UTC()
	resolvedAt := int64(d.u64())
	if d.err != nil {
		return nil, d.err
	}

	switch statusCode {
	case 0:
		st.Status = models.DisputeStatusOpen
	case 1:
		st.Status = models.DisputeStatusResolved
	default:
		return nil, fmt.Errorf("unknown dispute status code %d in account %s", statusCode, address)
	}

	switch resCode {
	case 0:
		// unresolved
	case byte(ResolutionReleaseToAgent):
		r := ReleaseToAgent()
		st.Resolution = &r
	case byte(ResolutionRefundToOwner):
		r := RefundToOwner()
		st.Resolution = &r
	case byte(ResolutionSplit):
		r, err := Split(pct)
		if err != nil {
			return nil, fmt.Errorf("dispute account %s: %w", address, err)
		}
		st.Resolution = &r
	default:
		return nil, fmt.Errorf("unknown resolution code %d in account %s", resCode, address)
	}

	if resolvedAt > 0 {
		t := time.Unix(resolvedAt, 0).UTC()
		st.ResolvedAt = &t
	}
	return st, nil
}
