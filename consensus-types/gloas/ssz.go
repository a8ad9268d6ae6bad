package gloas

import (
	"encoding/binary"

	ssz "github.com/ferranbt/fastssz"
)

// sszRootOf hashes an arbitrary sequence of fixed-size fields into a single merkle root via
// fastssz's hasher (the same primitive generated HashTreeRootWith methods build on top of).
// Container types in this module compute their roots this way instead of hand-rolling SHA-256
// concatenation, keeping HashTreeRoot on the fastssz code path ahead of codegen.
func sszRootOf(fields ...interface{}) Root {
	hh := ssz.NewHasher()
	indx := hh.Index()
	for _, f := range fields {
		switch v := f.(type) {
		case uint64:
			hh.PutUint64(v)
		case [32]byte:
			hh.PutBytes(v[:])
		case [20]byte:
			hh.PutBytes(v[:])
		case Root:
			hh.PutBytes(v[:])
		case ExecutionBlockHash:
			hh.PutBytes(v[:])
		default:
			// Callers pass only the concrete cases above, converting primitives newtypes with uint64().
			hh.PutBytes(uint64LE(0))
		}
	}
	hh.Merkleize(indx)
	root, _ := hh.HashRoot()
	return root
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
