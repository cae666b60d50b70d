package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"

	"github.com/eth2030/zkwasm/pkg/compress"
)

// proofBundle is everything verify needs that Compress's SNARK alone
// doesn't carry: the IS/FS incremental commitments the folding driver
// produced alongside it. compress.SNARK stays free of these so the library
// package's public surface doesn't grow CLI-only persistence concerns.
type proofBundle struct {
	SNARK      *compress.SNARK
	ICIS, ICFS [32]byte
}

// saveBundle writes b to path in a fixed binary layout: the groth16 proof
// (self-describing via its own WriteTo), then the fixed-size PublicIO
// fields, then the two extra commitments.
func saveBundle(path string, b *proofBundle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := b.SNARK.Proof.WriteTo(f); err != nil {
		return fmt.Errorf("write proof: %w", err)
	}

	var head [1 + 4 + 4 + 32 + 32 + 32 + 32 + 32 + 32 + 32]byte
	off := 0
	if b.SNARK.Recursive {
		head[off] = 1
	}
	off++
	binary.BigEndian.PutUint32(head[off:], b.SNARK.PublicIO.PC0)
	off += 4
	binary.BigEndian.PutUint32(head[off:], b.SNARK.PublicIO.SP0)
	off += 4
	off += copy(head[off:], b.SNARK.PublicIO.ExecutionFinalCommitment[:])
	off += copy(head[off:], b.SNARK.PublicIO.OpsFinalCommitment[:])
	off += copy(head[off:], b.SNARK.PublicIO.ScanFinalCommitment[:])
	off += copy(head[off:], elemBytes(b.SNARK.PublicIO.HIS))
	off += copy(head[off:], elemBytes(b.SNARK.PublicIO.HWS))
	off += copy(head[off:], elemBytes(b.SNARK.PublicIO.HRS))
	off += copy(head[off:], elemBytes(b.SNARK.PublicIO.HFS))
	if _, err := f.Write(head[:off]); err != nil {
		return fmt.Errorf("write public io: %w", err)
	}

	if _, err := f.Write(b.ICIS[:]); err != nil {
		return fmt.Errorf("write ic_is: %w", err)
	}
	if _, err := f.Write(b.ICFS[:]); err != nil {
		return fmt.Errorf("write ic_fs: %w", err)
	}
	return nil
}

// loadBundle reads back what saveBundle wrote.
func loadBundle(path string) (*proofBundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read proof: %w", err)
	}

	var head [1 + 4 + 4 + 32 + 32 + 32 + 32 + 32 + 32 + 32]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return nil, fmt.Errorf("read public io: %w", err)
	}
	off := 0
	recursive := head[off] != 0
	off++
	pc0 := binary.BigEndian.Uint32(head[off:])
	off += 4
	sp0 := binary.BigEndian.Uint32(head[off:])
	off += 4
	var pub compress.PublicIO
	pub.PC0, pub.SP0 = pc0, sp0
	off += copy(pub.ExecutionFinalCommitment[:], head[off:off+32])
	off += copy(pub.OpsFinalCommitment[:], head[off:off+32])
	off += copy(pub.ScanFinalCommitment[:], head[off:off+32])
	pub.HIS = bytesElem(head[off : off+32])
	off += 32
	pub.HWS = bytesElem(head[off : off+32])
	off += 32
	pub.HRS = bytesElem(head[off : off+32])
	off += 32
	pub.HFS = bytesElem(head[off : off+32])
	off += 32

	var icIS, icFS [32]byte
	if _, err := io.ReadFull(f, icIS[:]); err != nil {
		return nil, fmt.Errorf("read ic_is: %w", err)
	}
	if _, err := io.ReadFull(f, icFS[:]); err != nil {
		return nil, fmt.Errorf("read ic_fs: %w", err)
	}

	return &proofBundle{
		SNARK: &compress.SNARK{Proof: proof, PublicIO: pub, Recursive: recursive},
		ICIS:  icIS, ICFS: icFS,
	}, nil
}

func elemBytes(e fr.Element) []byte {
	b := e.Bytes()
	return b[:]
}

func bytesElem(b []byte) fr.Element {
	var e fr.Element
	e.SetBytes(b)
	return e
}
