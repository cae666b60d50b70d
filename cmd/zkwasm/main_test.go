package main

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sumToNWasm = `
00 61 73 6d 01 00 00 00
01 06 01 60 01 7f 01 7f
03 02 01 00
07 0c 01 08 73 75 6d 5f 74 6f 5f 6e 00 00
0a 23 01 21 01 01 7f 02 40 03 40 20 00 45 0d 01 20 01 20 00 6a 21 01 20 00 41 01 6b 21 00 0c 00 0b 0b 20 01 0b
`

func writeFixtureModule(t *testing.T) string {
	t.Helper()
	b, err := hex.DecodeString(strings.Join(strings.Fields(sumToNWasm), ""))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sum_to_n.wasm")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestParseInt64CSV(t *testing.T) {
	got, err := parseInt64CSV("1, 2,3")
	if err != nil {
		t.Fatalf("parseInt64CSV: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if got, err := parseInt64CSV(""); err != nil || got != nil {
		t.Fatalf("parseInt64CSV(\"\") = %v, %v", got, err)
	}
	if _, err := parseInt64CSV("not-a-number"); err == nil {
		t.Fatalf("expected an error for a non-numeric argument")
	}
}

func TestParseUint64CSV(t *testing.T) {
	got, err := parseUint64CSV("0,10,20")
	if err != nil {
		t.Fatalf("parseUint64CSV: %v", err)
	}
	want := []uint64{0, 10, 20}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if _, err := parseUint64CSV("-1"); err == nil {
		t.Fatalf("expected an error for a negative boundary")
	}
}

func TestProveThenVerifyRoundTrip(t *testing.T) {
	wasmPath := writeFixtureModule(t)
	dir := t.TempDir()
	proofPath := filepath.Join(dir, "proof.bin")
	keydir := filepath.Join(dir, "keys")

	rc := run([]string{
		"prove",
		"--wasm=" + wasmPath, "--func=sum_to_n", "--args=5",
		"--keydir=" + keydir, "--out=" + proofPath,
	})
	if rc != 0 {
		t.Fatalf("prove: exit code %d", rc)
	}

	rc = run([]string{"verify", "--proof=" + proofPath, "--keydir=" + keydir})
	if rc != 0 {
		t.Fatalf("verify: exit code %d", rc)
	}
}

func TestShardSubcommand(t *testing.T) {
	wasmPath := writeFixtureModule(t)
	dir := t.TempDir()
	keydir := filepath.Join(dir, "keys")

	rc := run([]string{
		"shard",
		"--wasm=" + wasmPath, "--func=sum_to_n", "--args=6",
		"--keydir=" + keydir,
	})
	if rc != 0 {
		t.Fatalf("shard: exit code %d", rc)
	}
}

func TestRunRejectsUnknownSubcommand(t *testing.T) {
	if rc := run([]string{"bogus"}); rc == 0 {
		t.Fatalf("expected a non-zero exit code for an unknown subcommand")
	}
}
