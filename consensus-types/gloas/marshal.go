package gloas

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

// ErrTruncated is returned when raw SSZ bytes end before the container's declared shape.
var ErrTruncated = errors.New("truncated ssz bytes")

// The marshalers below are the hand-written equivalents of fastssz-generated
// MarshalSSZ/UnmarshalSSZ pairs for the Gloas gossip message types. Fixed fields are laid out
// in declaration order; variable-length lists are length-prefixed. The gossip encoder and the
// beacon-API client's SSZ bid and envelope endpoints are the consumers; block/state SSZ stays
// with the hashing layer in ssz.go.

type sszWriter struct{ buf []byte }

func (w *sszWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *sszWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *sszWriter) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *sszWriter) boolByte(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

type sszReader struct {
	buf []byte
	off int
}

func (r *sszReader) remaining() int { return len(r.buf) - r.off }

func (r *sszReader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *sszReader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *sszReader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncated
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *sszReader) boolByte() (bool, error) {
	b, err := r.bytes(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// MarshalSSZ serializes the signed bid.
func (s *SignedExecutionPayloadBid) MarshalSSZ() ([]byte, error) {
	w := &sszWriter{}
	bid := s.Bid
	w.bytes(bid.ParentBlockHash[:])
	w.bytes(bid.ParentBlockRoot[:])
	w.bytes(bid.BlockHash[:])
	w.bytes(bid.FeeRecipient[:])
	w.u64(bid.GasLimit)
	w.bytes(bid.PrevRandao[:])
	w.u64(uint64(bid.Slot))
	w.u64(uint64(bid.BuilderIndex))
	w.u64(bid.Value)
	w.u64(bid.ExecutionPayment)
	w.u32(uint32(len(bid.BlobKzgCommitments)))
	for _, c := range bid.BlobKzgCommitments {
		w.bytes(c[:])
	}
	w.bytes(s.Signature[:])
	return w.buf, nil
}

// UnmarshalSSZ deserializes into s, overwriting all fields.
func (s *SignedExecutionPayloadBid) UnmarshalSSZ(raw []byte) error {
	r := &sszReader{buf: raw}
	bid := &ExecutionPayloadBid{}
	for _, dst := range [][]byte{bid.ParentBlockHash[:], bid.ParentBlockRoot[:], bid.BlockHash[:], bid.FeeRecipient[:]} {
		b, err := r.bytes(len(dst))
		if err != nil {
			return err
		}
		copy(dst, b)
	}
	var err error
	if bid.GasLimit, err = r.u64(); err != nil {
		return err
	}
	b, err := r.bytes(32)
	if err != nil {
		return err
	}
	copy(bid.PrevRandao[:], b)
	slot, err := r.u64()
	if err != nil {
		return err
	}
	bid.Slot = primitives.Slot(slot)
	bldr, err := r.u64()
	if err != nil {
		return err
	}
	bid.BuilderIndex = primitives.BuilderIndex(bldr)
	if bid.Value, err = r.u64(); err != nil {
		return err
	}
	if bid.ExecutionPayment, err = r.u64(); err != nil {
		return err
	}
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		cb, err := r.bytes(48)
		if err != nil {
			return err
		}
		var c [48]byte
		copy(c[:], cb)
		bid.BlobKzgCommitments = append(bid.BlobKzgCommitments, c)
	}
	sig, err := r.bytes(96)
	if err != nil {
		return err
	}
	copy(s.Signature[:], sig)
	s.Bid = bid
	return nil
}

func marshalWithdrawal(w *sszWriter, wd *Withdrawal) {
	w.u64(wd.Index)
	w.u64(uint64(wd.ValidatorIndex))
	w.bytes(wd.Address[:])
	w.u64(wd.Amount)
}

func unmarshalWithdrawal(r *sszReader) (Withdrawal, error) {
	var wd Withdrawal
	var err error
	if wd.Index, err = r.u64(); err != nil {
		return wd, err
	}
	vi, err := r.u64()
	if err != nil {
		return wd, err
	}
	wd.ValidatorIndex = primitives.ValidatorIndex(vi)
	addr, err := r.bytes(20)
	if err != nil {
		return wd, err
	}
	copy(wd.Address[:], addr)
	wd.Amount, err = r.u64()
	return wd, err
}

func marshalByteLists(w *sszWriter, lists [][]byte) {
	w.u32(uint32(len(lists)))
	for _, l := range lists {
		w.u32(uint32(len(l)))
		w.bytes(l)
	}
}

func unmarshalByteLists(r *sszReader) ([][]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		ln, err := r.u32()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(int(ln))
		if err != nil {
			return nil, err
		}
		out = append(out, append([]byte(nil), b...))
	}
	return out, nil
}

// MarshalSSZ serializes the signed envelope.
func (s *SignedExecutionPayloadEnvelope) MarshalSSZ() ([]byte, error) {
	w := &sszWriter{}
	env := s.Envelope
	p := env.Payload
	w.bytes(p.ParentHash[:])
	w.bytes(p.BlockHash[:])
	w.u64(p.Timestamp)
	w.bytes(p.FeeRecipient[:])
	w.u32(uint32(len(p.Withdrawals)))
	for i := range p.Withdrawals {
		marshalWithdrawal(w, &p.Withdrawals[i])
	}
	w.u32(uint32(len(p.Extra)))
	w.bytes(p.Extra)
	reqs := env.ExecutionRequests
	if reqs == nil {
		reqs = &ExecutionRequests{}
	}
	marshalByteLists(w, reqs.Deposits)
	marshalByteLists(w, reqs.Withdrawals)
	marshalByteLists(w, reqs.Consolidations)
	w.u64(uint64(env.BuilderIndex))
	w.bytes(env.BeaconBlockRoot[:])
	w.u64(uint64(env.Slot))
	w.bytes(env.StateRoot[:])
	w.bytes(s.Signature[:])
	return w.buf, nil
}

// UnmarshalSSZ deserializes into s, overwriting all fields.
func (s *SignedExecutionPayloadEnvelope) UnmarshalSSZ(raw []byte) error {
	r := &sszReader{buf: raw}
	p := &ExecutionPayloadGloas{}
	b, err := r.bytes(32)
	if err != nil {
		return err
	}
	copy(p.ParentHash[:], b)
	if b, err = r.bytes(32); err != nil {
		return err
	}
	copy(p.BlockHash[:], b)
	if p.Timestamp, err = r.u64(); err != nil {
		return err
	}
	if b, err = r.bytes(20); err != nil {
		return err
	}
	copy(p.FeeRecipient[:], b)
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		wd, err := unmarshalWithdrawal(r)
		if err != nil {
			return err
		}
		p.Withdrawals = append(p.Withdrawals, wd)
	}
	extraLen, err := r.u32()
	if err != nil {
		return err
	}
	if b, err = r.bytes(int(extraLen)); err != nil {
		return err
	}
	p.Extra = append([]byte(nil), b...)

	reqs := &ExecutionRequests{}
	if reqs.Deposits, err = unmarshalByteLists(r); err != nil {
		return err
	}
	if reqs.Withdrawals, err = unmarshalByteLists(r); err != nil {
		return err
	}
	if reqs.Consolidations, err = unmarshalByteLists(r); err != nil {
		return err
	}

	env := &ExecutionPayloadEnvelope{Payload: p, ExecutionRequests: reqs}
	bi, err := r.u64()
	if err != nil {
		return err
	}
	env.BuilderIndex = primitives.BuilderIndex(bi)
	if b, err = r.bytes(32); err != nil {
		return err
	}
	copy(env.BeaconBlockRoot[:], b)
	slot, err := r.u64()
	if err != nil {
		return err
	}
	env.Slot = primitives.Slot(slot)
	if b, err = r.bytes(32); err != nil {
		return err
	}
	copy(env.StateRoot[:], b)
	if b, err = r.bytes(96); err != nil {
		return err
	}
	copy(s.Signature[:], b)
	s.Envelope = env
	return nil
}

// MarshalSSZ serializes a single PTC member's message (the only form gossip carries).
func (m *PayloadAttestationMessage) MarshalSSZ() ([]byte, error) {
	w := &sszWriter{}
	w.u64(uint64(m.ValidatorIndex))
	w.bytes(m.Data.BeaconBlockRoot[:])
	w.u64(uint64(m.Data.Slot))
	w.boolByte(m.Data.PayloadPresent)
	w.boolByte(m.Data.BlobDataAvailable)
	w.bytes(m.Signature[:])
	return w.buf, nil
}

// UnmarshalSSZ deserializes into m, overwriting all fields.
func (m *PayloadAttestationMessage) UnmarshalSSZ(raw []byte) error {
	r := &sszReader{buf: raw}
	vi, err := r.u64()
	if err != nil {
		return err
	}
	m.ValidatorIndex = primitives.ValidatorIndex(vi)
	data := &PayloadAttestationData{}
	b, err := r.bytes(32)
	if err != nil {
		return err
	}
	copy(data.BeaconBlockRoot[:], b)
	slot, err := r.u64()
	if err != nil {
		return err
	}
	data.Slot = primitives.Slot(slot)
	if data.PayloadPresent, err = r.boolByte(); err != nil {
		return err
	}
	if data.BlobDataAvailable, err = r.boolByte(); err != nil {
		return err
	}
	if b, err = r.bytes(96); err != nil {
		return err
	}
	copy(m.Signature[:], b)
	m.Data = data
	return nil
}

// MarshalSSZ serializes the signed proposer preferences.
func (s *SignedProposerPreferences) MarshalSSZ() ([]byte, error) {
	w := &sszWriter{}
	w.u64(uint64(s.Message.ProposerIndex))
	w.u64(uint64(s.Message.Slot))
	w.bytes(s.Message.FeeRecipient[:])
	w.u64(s.Message.GasLimit)
	w.bytes(s.Signature[:])
	return w.buf, nil
}

// UnmarshalSSZ deserializes into s, overwriting all fields.
func (s *SignedProposerPreferences) UnmarshalSSZ(raw []byte) error {
	r := &sszReader{buf: raw}
	msg := &ProposerPreferences{}
	pi, err := r.u64()
	if err != nil {
		return err
	}
	msg.ProposerIndex = primitives.ValidatorIndex(pi)
	slot, err := r.u64()
	if err != nil {
		return err
	}
	msg.Slot = primitives.Slot(slot)
	b, err := r.bytes(20)
	if err != nil {
		return err
	}
	copy(msg.FeeRecipient[:], b)
	if msg.GasLimit, err = r.u64(); err != nil {
		return err
	}
	if b, err = r.bytes(96); err != nil {
		return err
	}
	copy(s.Signature[:], b)
	s.Message = msg
	return nil
}

// MarshalSSZ serializes an execution proof.
func (p *ExecutionProof) MarshalSSZ() ([]byte, error) {
	w := &sszWriter{}
	w.bytes(p.BlockHash[:])
	w.u64(p.SubnetId)
	w.u32(uint32(len(p.Proof)))
	w.bytes(p.Proof)
	return w.buf, nil
}

// UnmarshalSSZ deserializes into p, overwriting all fields.
func (p *ExecutionProof) UnmarshalSSZ(raw []byte) error {
	r := &sszReader{buf: raw}
	b, err := r.bytes(32)
	if err != nil {
		return err
	}
	copy(p.BlockHash[:], b)
	if p.SubnetId, err = r.u64(); err != nil {
		return err
	}
	n, err := r.u32()
	if err != nil {
		return err
	}
	if b, err = r.bytes(int(n)); err != nil {
		return err
	}
	p.Proof = append([]byte(nil), b...)
	return nil
}
