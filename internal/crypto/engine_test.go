package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func engines(t *testing.T) map[string]Engine {
	t.Helper()
	out := make(map[string]Engine)
	for _, suite := range []string{SuitePQ, SuiteNaCl} {
		e, err := New(Config{Suite: suite})
		if err != nil {
			t.Fatalf("New(%s) error = %v", suite, err)
		}
		out[suite] = e
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	e, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Suite() != SuitePQ {
		t.Errorf("Suite() = %q, want %q", e.Suite(), SuitePQ)
	}
	if e.HashAlgorithm() != HashSHA256 {
		t.Errorf("HashAlgorithm() = %q, want %q", e.HashAlgorithm(), HashSHA256)
	}
	if e.Ciphersuite() != PQCiphersuite {
		t.Errorf("Ciphersuite() = %q, want %q", e.Ciphersuite(), PQCiphersuite)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		isErr error
	}{
		{"unknown suite", Config{Suite: "rot13"}, ErrUnknownSuite},
		{"unknown hash", Config{HashAlgorithm: "MD5"}, ErrUnknownHash},
		{"bad aes key size", Config{SymmetricKeySize: 20}, nil},
		{"nacl with 16-byte key", Config{Suite: SuiteNaCl, SymmetricKeySize: 16}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if err == nil {
				t.Fatal("New() error = nil, want error")
			}
			if tt.isErr != nil && !errors.Is(err, tt.isErr) {
				t.Errorf("New() error = %v, want %v", err, tt.isErr)
			}
		})
	}
}

func TestEngine_SignVerify(t *testing.T) {
	for suite, e := range engines(t) {
		t.Run(suite, func(t *testing.T) {
			kp, err := e.GenerateSigningKeyPair()
			if err != nil {
				t.Fatalf("GenerateSigningKeyPair() error = %v", err)
			}
			data := []byte("transcript")

			sig, err := e.Sign(data, kp.Private)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			again, err := e.Sign(data, kp.Private)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if !bytes.Equal(sig, again) {
				t.Error("Sign() is not deterministic")
			}

			ok, err := e.Verify(kp.Public, data, sig)
			if err != nil || !ok {
				t.Fatalf("Verify() = %v, %v, want true, nil", ok, err)
			}

			ok, err = e.Verify(kp.Public, []byte("other"), sig)
			if err != nil || ok {
				t.Errorf("Verify(other data) = %v, %v, want false, nil", ok, err)
			}

			ok, err = e.Verify(kp.Public, data, flip(sig, 3))
			if err != nil || ok {
				t.Errorf("Verify(tampered sig) = %v, %v, want false, nil", ok, err)
			}

			other, _ := e.GenerateSigningKeyPair()
			ok, err = e.Verify(other.Public, data, sig)
			if err != nil || ok {
				t.Errorf("Verify(other key) = %v, %v, want false, nil", ok, err)
			}
		})
	}
}

func TestEngine_VerifyMalformed(t *testing.T) {
	for suite, e := range engines(t) {
		t.Run(suite, func(t *testing.T) {
			kp, _ := e.GenerateSigningKeyPair()
			sig, _ := e.Sign([]byte("x"), kp.Private)

			if _, err := e.Verify(kp.Public[:10], []byte("x"), sig); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Verify(short key) error = %v, want ErrInvalidKey", err)
			}
			if _, err := e.Verify(kp.Public, []byte("x"), sig[:10]); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Verify(short sig) error = %v, want ErrInvalidSignature", err)
			}
			if _, err := e.Sign([]byte("x"), []byte("short")); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Sign(short key) error = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestEngine_SymmetricRoundTrip(t *testing.T) {
	for suite, e := range engines(t) {
		t.Run(suite, func(t *testing.T) {
			plaintext := []byte(`{"subject":"hi","body":"hello"}`)
			r1, err := e.EncryptSymmetric(plaintext)
			if err != nil {
				t.Fatalf("EncryptSymmetric() error = %v", err)
			}
			r2, _ := e.EncryptSymmetric(plaintext)
			if bytes.Equal(r1.Key, r2.Key) || bytes.Equal(r1.IV, r2.IV) {
				t.Error("EncryptSymmetric() reused key or iv")
			}

			got, err := e.DecryptSymmetric(r1)
			if err != nil {
				t.Fatalf("DecryptSymmetric() error = %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("DecryptSymmetric() = %q, want %q", got, plaintext)
			}

			tampered := &SymmetricResult{Key: r1.Key, IV: r1.IV, Ciphertext: flip(r1.Ciphertext, 0)}
			if _, err := e.DecryptSymmetric(tampered); !errors.Is(err, ErrIntegrity) {
				t.Errorf("DecryptSymmetric(tampered) error = %v, want ErrIntegrity", err)
			}
		})
	}
}

func TestEngine_SymmetricKeySize(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		e, err := New(Config{SymmetricKeySize: size})
		if err != nil {
			t.Fatalf("New(%d) error = %v", size, err)
		}
		r, err := e.EncryptSymmetric([]byte("x"))
		if err != nil {
			t.Fatalf("EncryptSymmetric() error = %v", err)
		}
		if len(r.Key) != size {
			t.Errorf("len(Key) = %d, want %d", len(r.Key), size)
		}
	}
}

func TestEngine_AsymmetricRoundTrip(t *testing.T) {
	for suite, e := range engines(t) {
		t.Run(suite, func(t *testing.T) {
			kp, err := e.GenerateEncryptionKeyPair()
			if err != nil {
				t.Fatalf("GenerateEncryptionKeyPair() error = %v", err)
			}
			data := []byte(`{"location":"https://relay.example/blob/1"}`)

			ct, err := e.EncryptAsymmetric(kp.Public, data)
			if err != nil {
				t.Fatalf("EncryptAsymmetric() error = %v", err)
			}
			got, err := e.DecryptAsymmetric(kp.Private, ct)
			if err != nil {
				t.Fatalf("DecryptAsymmetric() error = %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("DecryptAsymmetric() = %q, want %q", got, data)
			}

			other, _ := e.GenerateEncryptionKeyPair()
			if _, err := e.DecryptAsymmetric(other.Private, ct); err == nil {
				t.Error("DecryptAsymmetric(other key) error = nil, want error")
			}
			if _, err := e.DecryptAsymmetric(kp.Private, flip(ct, len(ct)-1)); !errors.Is(err, ErrIntegrity) {
				t.Errorf("DecryptAsymmetric(tampered) error = %v, want ErrIntegrity", err)
			}
			if _, err := e.DecryptAsymmetric(kp.Private, ct[:8]); !errors.Is(err, ErrInvalidCiphertext) {
				t.Errorf("DecryptAsymmetric(short) error = %v, want ErrInvalidCiphertext", err)
			}
			if _, err := e.EncryptAsymmetric(kp.Public[:5], data); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("EncryptAsymmetric(short key) error = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestHash_KnownVectors(t *testing.T) {
	tests := []struct {
		algorithm string
		want      string
	}{
		{HashSHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{HashSHA512, "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"},
		{HashBLAKE2b256, "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319"},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			e, err := New(Config{HashAlgorithm: tt.algorithm})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := hex.EncodeToString(e.Hash([]byte("abc"))); got != tt.want {
				t.Errorf("Hash(abc) = %s, want %s", got, tt.want)
			}
			got, err := HashWith(tt.algorithm, []byte("abc"))
			if err != nil {
				t.Fatalf("HashWith() error = %v", err)
			}
			if hex.EncodeToString(got) != tt.want {
				t.Errorf("HashWith(abc) = %x, want %s", got, tt.want)
			}
		})
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{7}, 32)
	ct := []byte("ciphertext")

	k1, err := deriveKey(secret, ct, []byte("aad"), AESKeySize)
	if err != nil {
		t.Fatalf("deriveKey() error = %v", err)
	}
	k2, _ := deriveKey(secret, ct, []byte("aad"), AESKeySize)
	if !bytes.Equal(k1, k2) {
		t.Error("deriveKey() is not deterministic")
	}
	k3, _ := deriveKey(secret, ct, []byte("aae"), AESKeySize)
	if bytes.Equal(k1, k3) {
		t.Error("deriveKey() ignores aad")
	}
	if len(k1) != AESKeySize {
		t.Errorf("len(key) = %d, want %d", len(k1), AESKeySize)
	}
}

func BenchmarkPQEngine_EncryptAsymmetric(b *testing.B) {
	e, _ := New(DefaultConfig())
	kp, _ := e.GenerateEncryptionKeyPair()
	data := make([]byte, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.EncryptAsymmetric(kp.Public, data)
	}
}
