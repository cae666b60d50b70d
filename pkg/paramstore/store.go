// Package paramstore manages the prover/verifier key pairs for every
// circuit shape the step, ops, scan and compression layers compile: a
// content-addressed cache keyed by the circuit's digest, computed lazily
// behind a once-init cell and persisted to disk under a file lock so two
// processes racing to generate the same keys don't corrupt each other's
// output.
package paramstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/gofrs/flock"

	"github.com/eth2030/zkwasm/pkg/crypto"
	"github.com/eth2030/zkwasm/pkg/log"
)

var storeLog = log.Default().Module("paramstore")

// Digest content-addresses a compiled circuit shape.
type Digest = crypto.Hash

// DigestCircuit compiles circuit and hashes its R1CS representation,
// giving every distinct circuit shape (switchboard batch size, ops batch
// size, scan batch size, compression wrapper) a stable cache key.
func DigestCircuit(circuit frontend.Circuit) (Digest, constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return Digest{}, nil, fmt.Errorf("paramstore: compile: %w", err)
	}
	var buf sizeCountingWriter
	if _, err := ccs.WriteTo(&buf); err != nil {
		return Digest{}, nil, fmt.Errorf("paramstore: serialize ccs: %w", err)
	}
	return crypto.Keccak256Hash(buf.data), ccs, nil
}

type sizeCountingWriter struct{ data []byte }

func (w *sizeCountingWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

// KeyPair is one circuit shape's Groth16 proving/verifying key.
type KeyPair struct {
	PK groth16.ProvingKey
	VK groth16.VerifyingKey
}

type entry struct {
	once sync.Once
	pair KeyPair
	err  error
}

// Store caches key pairs in memory behind a per-digest sync.Once and
// persists them to dir on first generation. Concurrent first access to the
// same digest is serialised by the store itself: entryFor hands every
// caller the same entry under s.mu, and that entry's sync.Once runs the
// load-or-generate step exactly once.
type Store struct {
	dir string

	mu      sync.Mutex
	entries map[Digest]*entry
}

// NewStore creates a store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("paramstore: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, entries: make(map[Digest]*entry)}, nil
}

func (s *Store) entryFor(digest Digest) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[digest]
	if !ok {
		e = &entry{}
		s.entries[digest] = e
	}
	return e
}

// GetOrCreate returns the key pair for digest, generating it (and
// persisting it to disk) the first time this digest is requested in the
// process. ccs is the compiled circuit matching digest; it is only used
// when the keys must actually be generated.
func (s *Store) GetOrCreate(digest Digest, ccs constraint.ConstraintSystem) (KeyPair, error) {
	e := s.entryFor(digest)
	e.once.Do(func() {
		e.pair, e.err = s.loadOrGenerate(digest, ccs)
	})
	return e.pair, e.err
}

func (s *Store) loadOrGenerate(digest Digest, ccs constraint.ConstraintSystem) (KeyPair, error) {
	base := filepath.Join(s.dir, hex.EncodeToString(digest[:]))
	lock := flock.New(base + ".lock")
	if err := lock.Lock(); err != nil {
		return KeyPair{}, fmt.Errorf("paramstore: lock %s: %w", base, err)
	}
	defer lock.Unlock()

	if pair, ok, err := loadFromDisk(base); err != nil {
		return KeyPair{}, err
	} else if ok {
		storeLog.Debug("loaded cached parameters", "digest", digest.Hex())
		return pair, nil
	}

	storeLog.Info("generating new parameters", "digest", digest.Hex())
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return KeyPair{}, fmt.Errorf("paramstore: groth16 setup: %w", err)
	}
	pair := KeyPair{PK: pk, VK: vk}
	if err := saveToDisk(base, pair); err != nil {
		return KeyPair{}, err
	}
	return pair, nil
}

func loadFromDisk(base string) (KeyPair, bool, error) {
	pkFile, err := os.Open(base + ".pk")
	if os.IsNotExist(err) {
		return KeyPair{}, false, nil
	}
	if err != nil {
		return KeyPair{}, false, fmt.Errorf("paramstore: open pk: %w", err)
	}
	defer pkFile.Close()

	vkFile, err := os.Open(base + ".vk")
	if err != nil {
		return KeyPair{}, false, fmt.Errorf("paramstore: open vk: %w", err)
	}
	defer vkFile.Close()

	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(pkFile); err != nil {
		return KeyPair{}, false, fmt.Errorf("paramstore: read pk: %w", err)
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(vkFile); err != nil {
		return KeyPair{}, false, fmt.Errorf("paramstore: read vk: %w", err)
	}
	return KeyPair{PK: pk, VK: vk}, true, nil
}

func saveToDisk(base string, pair KeyPair) error {
	pkFile, err := os.Create(base + ".pk")
	if err != nil {
		return fmt.Errorf("paramstore: create pk: %w", err)
	}
	defer pkFile.Close()
	if _, err := pair.PK.WriteTo(pkFile); err != nil {
		return fmt.Errorf("paramstore: write pk: %w", err)
	}

	vkFile, err := os.Create(base + ".vk")
	if err != nil {
		return fmt.Errorf("paramstore: create vk: %w", err)
	}
	defer vkFile.Close()
	if _, err := pair.VK.WriteTo(vkFile); err != nil {
		return fmt.Errorf("paramstore: write vk: %w", err)
	}
	return nil
}
