package main

import (
	"os"
	"path/filepath"
	"testing"
)

const emptyBatchFixture = `{
  "block": {
    "chainId": 1,
    "blockNumber": 1,
    "timestamp": 1700000000,
    "baseFee": 7,
    "coinbase": "0x0000000000000000000000000000000000008001",
    "gasLimit": 30000000,
    "priorStateCommitment": "0x0000000000000000000000000000000000000000000000000000000000000000"
  },
  "accounts": [],
  "preimages": [],
  "storage": [],
  "txs": []
}`

func TestRunEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.json")
	if err := os.WriteFile(path, []byte(emptyBatchFixture), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if code := run([]string{"-fixture", path}); code != 0 {
		t.Fatalf("run() = %d, want 0", code)
	}
}

func TestRunMissingFixtureFlag(t *testing.T) {
	if code := run(nil); code != 2 {
		t.Fatalf("run() = %d, want 2", code)
	}
}

func TestRunVersion(t *testing.T) {
	if code := run([]string{"-version"}); code != 0 {
		t.Fatalf("run() = %d, want 0", code)
	}
}

func TestRunUnreadableFixture(t *testing.T) {
	dir := t.TempDir()
	if code := run([]string{"-fixture", filepath.Join(dir, "missing.json")}); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
}
