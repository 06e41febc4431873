package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChecksumLockAndVerify(t *testing.T) {
	path := writeConfig(t, "service:\n  name: locked\n")

	manifest, err := WriteChecksums(path)
	if err != nil {
		t.Fatalf("WriteChecksums() failed: %v", err)
	}
	if manifest.Hashes["config.yaml"] == "" {
		t.Fatal("config.yaml hash missing from manifest")
	}

	info, err := os.Stat(filepath.Join(filepath.Dir(path), ChecksumFile))
	if err != nil {
		t.Fatalf("checksums not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("checksums mode = %v, want 0600", info.Mode().Perm())
	}

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  name: tampered\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Load() error = %v, want hash mismatch", err)
	}
}

func TestVerifyWithoutManifest(t *testing.T) {
	path := writeConfig(t, "{}\n")
	if err := VerifyChecksums(path); err != nil {
		t.Fatalf("VerifyChecksums() without manifest = %v, want nil", err)
	}
}

func TestVerifyRejectsUnknownVersion(t *testing.T) {
	path := writeConfig(t, "{}\n")
	manifest := "version: 2\nhashes: {}\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), ChecksumFile), []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	err := VerifyChecksums(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported checksums version") {
		t.Fatalf("VerifyChecksums() = %v", err)
	}
}
