package memcheck

import (
	"testing"

	"github.com/eth2030/zkwasm/pkg/crypto"
)

func TestDeriveChallengesIsDeterministic(t *testing.T) {
	icTrace := crypto.Keccak256Hash([]byte("trace"))
	icIS := crypto.Keccak256Hash([]byte("is"))
	icFS := crypto.Keccak256Hash([]byte("fs"))

	c1 := DeriveChallenges(icTrace, icIS, icFS)
	c2 := DeriveChallenges(icTrace, icIS, icFS)

	if !c1.Gamma.Equal(&c2.Gamma) || !c1.Alpha.Equal(&c2.Alpha) {
		t.Fatalf("DeriveChallenges is not deterministic")
	}
	if c1.Gamma.Equal(&c1.Alpha) {
		t.Fatalf("gamma and alpha collided: %s", c1.Gamma.String())
	}
}

func TestDeriveChallengesDependsOnEveryInput(t *testing.T) {
	icTrace := crypto.Keccak256Hash([]byte("trace"))
	icIS := crypto.Keccak256Hash([]byte("is"))
	icFS := crypto.Keccak256Hash([]byte("fs"))
	base := DeriveChallenges(icTrace, icIS, icFS)

	flippedFS := crypto.Keccak256Hash([]byte("fs-tampered"))
	other := DeriveChallenges(icTrace, icIS, flippedFS)

	if base.Gamma.Equal(&other.Gamma) && base.Alpha.Equal(&other.Alpha) {
		t.Fatalf("challenges did not change when IC_FS changed")
	}
}
