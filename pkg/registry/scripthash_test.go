package registry

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestScriptHash(t *testing.T) {
	dir := t.TempDir()
	deploy := filepath.Join(dir, "deploy.sql")
	revert := filepath.Join(dir, "revert.sql")
	verify := filepath.Join(dir, "verify.sql")
	if err := os.WriteFile(deploy, []byte("CREATE TABLE users (id INT);\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(revert, []byte("DROP TABLE users;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Missing verify script hashes as empty rather than failing.
	first, err := ScriptHash(deploy, revert, verify)
	if err != nil {
		t.Fatalf("ScriptHash: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{40}$`).MatchString(first) {
		t.Fatalf("hash %q is not 40 hex chars", first)
	}

	again, err := ScriptHash(deploy, revert, verify)
	if err != nil {
		t.Fatalf("ScriptHash: %v", err)
	}
	if again != first {
		t.Error("hash not deterministic")
	}

	if err := os.WriteFile(deploy, []byte("CREATE TABLE users (id INT, name TEXT);\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	edited, err := ScriptHash(deploy, revert, verify)
	if err != nil {
		t.Fatalf("ScriptHash: %v", err)
	}
	if edited == first {
		t.Error("hash unchanged after script edit")
	}
}
