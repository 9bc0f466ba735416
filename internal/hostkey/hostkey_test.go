package hostkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func load(t *testing.T, dir string) *HostKey {
	t.Helper()
	hk, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(%q): %v", dir, err)
	}
	return hk
}

func TestLoadGenerates(t *testing.T) {
	dir := t.TempDir()
	hk := load(t, dir)

	if len(hk.PrivateKey) != ed25519.PrivateKeySize {
		t.Errorf("private key length: got %d", len(hk.PrivateKey))
	}
	if len(hk.PublicKey) != ed25519.PublicKeySize {
		t.Errorf("public key length: got %d", len(hk.PublicKey))
	}
	if hk.Signer == nil {
		t.Fatal("Signer should not be nil")
	}
	if !strings.HasPrefix(hk.Fingerprint, "SHA256:") {
		t.Errorf("Fingerprint: got %q", hk.Fingerprint)
	}

	privInfo, err := os.Stat(filepath.Join(dir, Dir, PrivateFile))
	if err != nil {
		t.Fatalf("private key file missing: %v", err)
	}
	if perm := privInfo.Mode().Perm(); perm != 0600 {
		t.Errorf("private key mode: got %o, want 600", perm)
	}

	pubLine, err := os.ReadFile(filepath.Join(dir, Dir, PublicFile))
	if err != nil {
		t.Fatalf("public key file missing: %v", err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(pubLine)
	if err != nil {
		t.Fatalf("public key file not in authorized_keys format: %v", err)
	}
	if !bytes.Equal(pub.Marshal(), hk.Signer.PublicKey().Marshal()) {
		t.Error("public key file does not match signer")
	}
}

func TestLoadIsStable(t *testing.T) {
	dir := t.TempDir()
	first := load(t, dir)
	second := load(t, dir)
	if !first.PublicKey.Equal(second.PublicKey) {
		t.Error("reloading should return the same key")
	}
	if first.Fingerprint != second.Fingerprint {
		t.Errorf("fingerprint changed: %q vs %q", first.Fingerprint, second.Fingerprint)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, Dir), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, Dir, PrivateFile), []byte("not pem"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for non-PEM host key")
	}
}

func TestLoadRejectsNonED25519(t *testing.T) {
	dir := t.TempDir()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, Dir), 0700); err != nil {
		t.Fatal(err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(filepath.Join(dir, Dir, PrivateFile), data, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "ED25519") {
		t.Fatalf("expected ED25519 error, got %v", err)
	}
}
