package security

import (
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPEM_Inline(t *testing.T) {
	pemBytes, err := LoadPEM(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("LoadPEM: %v", err)
	}
	if !strings.Contains(string(pemBytes), "-----BEGIN") {
		t.Error("LoadPEM did not return PEM content")
	}
}

func TestLoadPEM_LiteralNewlines(t *testing.T) {
	// Env-delivered keys often carry literal \n sequences.
	inline := strings.ReplaceAll(testPublicKeyPEM, "\n", `\n`)
	pemBytes, err := LoadPEM(inline)
	if err != nil {
		t.Fatalf("LoadPEM: %v", err)
	}
	if !strings.Contains(string(pemBytes), "\n") {
		t.Error("LoadPEM should convert literal \\n to newlines")
	}
	if _, err := ParsePublicKey(string(pemBytes)); err != nil {
		t.Errorf("ParsePublicKey after \\n conversion: %v", err)
	}
}

func TestLoadPEM_FilePath(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(tmp, []byte(testPrivateKeyPEM), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ParsePrivateKey(tmp); err != nil {
		t.Errorf("ParsePrivateKey from file: %v", err)
	}
}

func TestLoadPEM_Empty(t *testing.T) {
	if _, err := LoadPEM("  "); err == nil {
		t.Error("LoadPEM of blank string should fail")
	}
}

func TestParseKeys_RoundTrip(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	priv, ok := signer.Public().(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("test key should be ECDSA")
	}
	pubKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("parsed public key should be ECDSA")
	}
	if !priv.Equal(pubKey) {
		t.Error("public key does not match private key")
	}
}

func TestParseKeys_Garbage(t *testing.T) {
	if _, err := ParsePrivateKey("not a key"); err == nil {
		t.Error("ParsePrivateKey of garbage should fail")
	}
	if _, err := ParsePublicKey("-----BEGIN JUNK-----\nAAAA\n-----END JUNK-----"); err == nil {
		t.Error("ParsePublicKey of unknown block type should fail")
	}
}
