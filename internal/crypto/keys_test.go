package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	pk, err := LoadKey(KeySource{EncryptedKeyPath: path, Password: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	raw, err := LoadKey(KeySource{PrivateKey: testKeyHex})
	if err != nil {
		t.Fatalf("LoadKey raw: %v", err)
	}
	if !pk.Equal(raw) {
		t.Fatal("decrypted key differs from raw key")
	}

	if _, err := LoadKey(KeySource{EncryptedKeyPath: path, Password: "wrong"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestLoadKeyRequiresSource(t *testing.T) {
	if _, err := LoadKey(KeySource{}); err == nil {
		t.Fatal("expected error with no key source")
	}
	if _, err := LoadKey(KeySource{PrivateKey: "zz"}); err == nil {
		t.Fatal("expected error for non-hex key")
	}
}
