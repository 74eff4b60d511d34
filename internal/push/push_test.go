package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/localspeed/internal/model"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	// Public key should be base64url-encoded, 65 bytes uncompressed P-256 point
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	// Private key should be base64url-encoded, 32 bytes P-256 scalar
	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

func TestConfigEnabled(t *testing.T) {
	if (Config{VAPIDPublicKey: "pub"}).Enabled() {
		t.Error("config with only a public key reported enabled")
	}
	if !(Config{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}).Enabled() {
		t.Error("config with both keys reported disabled")
	}
}

// browserSubscription returns keys shaped like the ones a browser's
// PushManager hands out.
func browserSubscription(t *testing.T, endpoint string) model.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate subscription key: %v", err)
	}
	auth := make([]byte, 16)
	rand.Read(auth)
	return model.PushSubscription{
		Endpoint:  endpoint,
		P256dhKey: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		AuthKey:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}
	return NewService(Config{VAPIDPublicKey: pub, VAPIDPrivateKey: priv}, nil)
}

func TestServiceSend(t *testing.T) {
	var gotAuth, gotTTL, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTTL = r.Header.Get("TTL")
		gotEncoding = r.Header.Get("Content-Encoding")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	svc := newTestService(t)
	err := svc.Send(context.Background(), browserSubscription(t, srv.URL+"/push/abc"), Payload{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasPrefix(gotAuth, "vapid ") {
		t.Errorf("Authorization = %q, want vapid scheme", gotAuth)
	}
	if gotTTL != "86400" {
		t.Errorf("TTL = %q, want 86400", gotTTL)
	}
	if gotEncoding != "aes128gcm" {
		t.Errorf("Content-Encoding = %q, want aes128gcm", gotEncoding)
	}
}

func TestServiceSendStatus(t *testing.T) {
	tests := []struct {
		status  int
		expired bool
	}{
		{http.StatusGone, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		err := newTestService(t).Send(context.Background(), browserSubscription(t, srv.URL), Payload{Title: "t"})
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
			continue
		}
		if errors.Is(err, ErrExpired) != tt.expired {
			t.Errorf("status %d: err = %v, expired want %v", tt.status, err, tt.expired)
		}
	}
}
