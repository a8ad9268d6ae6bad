package epbs

import (
	"github.com/pkg/errors"

	coresigning "github.com/prysmaticlabs/gloas-epbs/beacon-chain/core/signing"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
	csigning "github.com/prysmaticlabs/gloas-epbs/crypto/signing"
)

// ForkName identifies the fork whose ExecutionPayloadHeader shape a BuilderBid carries.
type ForkName int

const (
	ForkBellatrix ForkName = iota
	ForkCapella
	ForkDeneb
	ForkElectra
	ForkFulu
	ForkGloas
)

// ErrTruncatedBid is returned when raw bytes are too short to contain a bid's fixed fields.
var ErrTruncatedBid = errors.New("truncated builder bid")

// BuilderBid is the fork-versioned container a builder signs and gossips. Only the Gloas
// fields are populated by this core's own bid flow; older-fork headers are carried opaquely
// so dispatch and signature verification can still run against them.
type BuilderBid struct {
	Fork               ForkName
	Value              uint64
	Pubkey             gloas.BLSPubkey
	BlobKzgCommitments [][48]byte
	ExecutionRequests  *gloas.ExecutionRequests
	HeaderBytes        []byte
}

// SignedBuilderBid wraps a BuilderBid with the builder's signature.
type SignedBuilderBid struct {
	Message   *BuilderBid
	Signature gloas.BLSSignature
}

// FromSSZBytesByFork decodes raw into a BuilderBid tagged with the caller-supplied fork. The
// fork is never inferred from the bytes: Gloas and Fulu header encodings happen to share a
// wire shape, so the same bytes decoded under different fork tags are distinct bids. The fork
// tag also selects which fields are present on the wire: blob KZG commitments from Deneb,
// execution requests from Electra.
func FromSSZBytesByFork(raw []byte, fork ForkName) (*BuilderBid, error) {
	r := &bidReader{buf: raw}
	bb := &BuilderBid{Fork: fork}
	var err error
	if bb.Value, err = r.u64(); err != nil {
		return nil, err
	}
	pk, err := r.take(48)
	if err != nil {
		return nil, err
	}
	copy(bb.Pubkey[:], pk)
	if fork >= ForkDeneb {
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			cb, err := r.take(48)
			if err != nil {
				return nil, err
			}
			var c [48]byte
			copy(c[:], cb)
			bb.BlobKzgCommitments = append(bb.BlobKzgCommitments, c)
		}
	}
	if fork >= ForkElectra {
		reqs := &gloas.ExecutionRequests{}
		if reqs.Deposits, err = r.byteLists(); err != nil {
			return nil, err
		}
		if reqs.Withdrawals, err = r.byteLists(); err != nil {
			return nil, err
		}
		if reqs.Consolidations, err = r.byteLists(); err != nil {
			return nil, err
		}
		bb.ExecutionRequests = reqs
	}
	bb.HeaderBytes = append([]byte(nil), r.rest()...)
	return bb, nil
}

// AsSSZBytes is the inverse of FromSSZBytesByFork: round-tripping through the two with the
// same fork tag reproduces the original value, including the Deneb+ commitments and the
// Electra+ execution requests.
func (b *BuilderBid) AsSSZBytes() []byte {
	out := make([]byte, 8, 8+48+len(b.HeaderBytes))
	encodeUint64(out[:8], b.Value)
	out = append(out, b.Pubkey[:]...)
	if b.Fork >= ForkDeneb {
		out = appendUint32(out, uint32(len(b.BlobKzgCommitments)))
		for _, c := range b.BlobKzgCommitments {
			out = append(out, c[:]...)
		}
	}
	if b.Fork >= ForkElectra {
		reqs := b.ExecutionRequests
		if reqs == nil {
			reqs = &gloas.ExecutionRequests{}
		}
		out = appendByteLists(out, reqs.Deposits)
		out = appendByteLists(out, reqs.Withdrawals)
		out = appendByteLists(out, reqs.Consolidations)
	}
	out = append(out, b.HeaderBytes...)
	return out
}

// VerifySignature recovers the bid's pubkey, computes the BeaconBuilder signing root at epoch,
// and verifies the signature. A zero pubkey or a decompression failure returns false, not an
// error: callers treat both as "bid not usable" rather than a hard fault.
func (sb *SignedBuilderBid) VerifySignature(fork *csigning.Fork, genesisValidatorsRoot []byte, epoch primitives.Epoch) (bool, error) {
	if sb == nil || sb.Message == nil {
		return false, nil
	}
	var zero gloas.BLSPubkey
	if sb.Message.Pubkey == zero {
		return false, nil
	}
	domain, err := csigning.Domain(fork, epoch, csigning.DomainBeaconBuilder, genesisValidatorsRoot)
	if err != nil {
		return false, err
	}
	objRoot := simpleBidRoot(sb.Message)
	msg := csigning.ComputeSigningRoot(objRoot, domain)
	set := coresigning.SignatureSet{Pubkey: sb.Message.Pubkey, Message: msg, Signature: sb.Signature}
	ok, err := set.Verify()
	if err != nil {
		return false, nil
	}
	return ok, nil
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func encodeUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v)
		v >>= 8
	}
}

func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// appendByteLists writes a count-prefixed list of length-prefixed byte slices, the same
// layout the gossip marshalers use for execution-request groups.
func appendByteLists(dst []byte, lists [][]byte) []byte {
	dst = appendUint32(dst, uint32(len(lists)))
	for _, l := range lists {
		dst = appendUint32(dst, uint32(len(l)))
		dst = append(dst, l...)
	}
	return dst
}

// bidReader is a bounds-checked cursor over a bid's raw bytes; every short read surfaces as
// ErrTruncatedBid.
type bidReader struct {
	buf []byte
	off int
}

func (r *bidReader) take(n int) ([]byte, error) {
	if len(r.buf)-r.off < n {
		return nil, ErrTruncatedBid
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *bidReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return decodeUint64(b), nil
}

func (r *bidReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *bidReader) byteLists() ([][]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for i := uint32(0); i < n; i++ {
		ln, err := r.u32()
		if err != nil {
			return nil, err
		}
		b, err := r.take(int(ln))
		if err != nil {
			return nil, err
		}
		out = append(out, append([]byte(nil), b...))
	}
	return out, nil
}

func (r *bidReader) rest() []byte {
	return r.buf[r.off:]
}

// simpleBidRoot digests every signed field, so a relay cannot mutate the committed blob KZG
// commitments or execution requests without invalidating the builder's signature.
func simpleBidRoot(b *BuilderBid) [32]byte {
	fields := []interface{}{uint64(b.Fork), b.Value, b.Pubkey[:]}
	fields = append(fields, uint64(len(b.BlobKzgCommitments)))
	for i := range b.BlobKzgCommitments {
		fields = append(fields, b.BlobKzgCommitments[i][:])
	}
	reqs := b.ExecutionRequests
	if reqs == nil {
		reqs = &gloas.ExecutionRequests{}
	}
	for _, group := range [][][]byte{reqs.Deposits, reqs.Withdrawals, reqs.Consolidations} {
		fields = append(fields, uint64(len(group)))
		for _, item := range group {
			fields = append(fields, uint64(len(item)), item)
		}
	}
	fields = append(fields, b.HeaderBytes)
	return coresigning.SimpleRoot(fields...)
}
