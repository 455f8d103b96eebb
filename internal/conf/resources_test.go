package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadResourceCSVMissingFileCreatesHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.csv")

	rows, err := LoadResourceCSV(path)
	if err != nil {
		t.Fatalf("LoadResourceCSV failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows for freshly created file, got %d", len(rows))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}
	if string(data) != "type,con,sha256hex,salt\n" {
		t.Fatalf("got header %q", data)
	}
}

func TestLoadResourceCSVParsesRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.csv")
	digest := SecretDigestHex("pw", "s")
	content := "type,con,sha256hex,salt\ntcp,7000," + digest + ",s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	rows, err := LoadResourceCSV(path)
	if err != nil {
		t.Fatalf("LoadResourceCSV failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Type != "tcp" || rows[0].Con != "7000" || rows[0].Salt != "s" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestLoadResourceCSVRejectsBadType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.csv")
	content := "type,con,sha256hex,salt\nsctp,7000," + SecretDigestHex("pw", "s") + ",s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := LoadResourceCSV(path); err == nil {
		t.Fatalf("expected error for unknown resource type")
	}
}
