// Package hostkey loads the console's ED25519 SSH host key, generating it on
// first use.
package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// File names under <dataDir>/hostkey/.
const (
	Dir         = "hostkey"
	PrivateFile = "ssh_host_ed25519_key"
	PublicFile  = "ssh_host_ed25519_key.pub"
)

// HostKey is the server's signing key and its published forms.
type HostKey struct {
	PrivateKey  ed25519.PrivateKey
	PublicKey   ed25519.PublicKey
	Signer      ssh.Signer
	Fingerprint string // SHA256:... as printed by ssh-keygen -l
}

// Load reads the host key from dataDir/hostkey/. If the key file doesn't
// exist, a new key is generated and persisted.
func Load(dataDir string) (*HostKey, error) {
	keyDir := filepath.Join(dataDir, Dir)
	privPath := filepath.Join(keyDir, PrivateFile)

	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading host key: %w", err)
		}
		return generate(keyDir, privPath, filepath.Join(keyDir, PublicFile))
	}
	return parse(privPEM)
}

func generate(keyDir, privPath, pubPath string) (*HostKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("creating host key dir: %w", err)
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling host key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return nil, fmt.Errorf("writing host key: %w", err)
	}

	hk, err := fromPrivate(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(hk.Signer.PublicKey()), 0644); err != nil {
		return nil, fmt.Errorf("writing host public key: %w", err)
	}
	return hk, nil
}

func parse(privPEM []byte) (*HostKey, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in host key")
	}
	rawKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}
	priv, ok := rawKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("host key is not ED25519")
	}
	return fromPrivate(priv)
}

func fromPrivate(priv ed25519.PrivateKey) (*HostKey, error) {
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("creating SSH signer: %w", err)
	}
	return &HostKey{
		PrivateKey:  priv,
		PublicKey:   priv.Public().(ed25519.PublicKey),
		Signer:      signer,
		Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
	}, nil
}
