package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/azscribe/domain"
)

const (
	testAccount = "opencaststorage"
	testKey     = "dGVzdC1hY2NvdW50LWtleS0xMjM0NTY3ODkw"
)

func newTestSigner(t *testing.T, opts ...Option) *Signer {
	t.Helper()
	s, err := NewSigner(testAccount, testKey, opts...)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return s
}

func expectedSignature(t *testing.T, stringToSign string) string {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(testKey)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestNewSignerRequiresCredentials(t *testing.T) {
	tests := []struct {
		name, account, key string
	}{
		{"missing account", "", testKey},
		{"missing key", testAccount, ""},
		{"key not base64", testAccount, "%%%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.account, tt.key)
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestAccountTokenIsDeterministic(t *testing.T) {
	s := newTestSigner(t)
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	opts := AccountOptions{
		Permissions:   "rl",
		ResourceTypes: "c",
		Start:         start,
		Expiry:        start.Add(time.Hour),
		IP:            "10.0.0.1",
	}

	first, err := s.AccountToken(opts)
	if err != nil {
		t.Fatalf("AccountToken failed: %v", err)
	}
	second, err := s.AccountToken(opts)
	if err != nil {
		t.Fatalf("AccountToken failed: %v", err)
	}
	if first.Encode() != second.Encode() {
		t.Errorf("tokens differ:\n%s\n%s", first.Encode(), second.Encode())
	}

	stringToSign := strings.Join([]string{
		testAccount, "rl", "b", "c", "2026-05-04T10:00:00Z", "2026-05-04T11:00:00Z", "10.0.0.1", "https", Version, "",
	}, "\n") + "\n"
	if got, want := first.Signature(), expectedSignature(t, stringToSign); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
	if strings.Count(stringToSign, "\n") != 10 {
		t.Fatalf("account string-to-sign should have 10 fields")
	}
}

func TestAccountTokenEncoding(t *testing.T) {
	s := newTestSigner(t)
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	token, err := s.AccountToken(AccountOptions{Permissions: "c", ResourceTypes: "c", Start: start, Expiry: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("AccountToken failed: %v", err)
	}

	encoded := token.Encode()
	if !strings.HasPrefix(encoded, "sv="+Version+"&ss=b&srt=c&sp=c&") {
		t.Errorf("unexpected parameter order: %s", encoded)
	}
	if !strings.Contains(encoded, "&spr=https&sig=") {
		t.Errorf("protocol must be https and signature last: %s", encoded)
	}

	values, err := url.ParseQuery(encoded)
	if err != nil {
		t.Fatalf("token is not a valid query string: %v", err)
	}
	if values.Get("sig") != token.Signature() {
		t.Errorf("decoded signature %q != %q", values.Get("sig"), token.Signature())
	}
	if values.Get("st") != "2026-05-04T10:00:00Z" {
		t.Errorf("st = %q", values.Get("st"))
	}
}

func TestServiceTokenCanonicalResource(t *testing.T) {
	s := newTestSigner(t)
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	base := ServiceOptions{
		Permissions: "w",
		Resource:    ResourceBlob,
		Start:       start,
		Expiry:      start.Add(24 * time.Hour),
	}

	withoutSlash := base
	withoutSlash.ResourcePath = "transcriptions/media/track.mp4"
	withSlash := base
	withSlash.ResourcePath = "transcriptions/media/track.mp4/"

	a, err := s.ServiceToken(withoutSlash)
	if err != nil {
		t.Fatalf("ServiceToken failed: %v", err)
	}
	b, err := s.ServiceToken(withSlash)
	if err != nil {
		t.Fatalf("ServiceToken failed: %v", err)
	}
	if a.Encode() != b.Encode() {
		t.Errorf("trailing slash changed the token:\n%s\n%s", a.Encode(), b.Encode())
	}

	stringToSign := strings.Join([]string{
		"w", "2026-05-04T10:00:00Z", "2026-05-05T10:00:00Z",
		"/blob/" + testAccount + "/transcriptions/media/track.mp4",
		"", "", "https", Version, "b", "", "", "", "", "", "", "",
	}, "\n")
	if got, want := a.Signature(), expectedSignature(t, stringToSign); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
	if a.Get("sr") != "b" || a.Get("sp") != "w" {
		t.Errorf("unexpected token params: %s", a.Encode())
	}
}

func TestCanonicalResource(t *testing.T) {
	tests := map[string]string{
		"container":           "/blob/acct/container",
		"container/":          "/blob/acct/container",
		"/container/blob.mp4": "/blob/acct/container/blob.mp4",
		"container/dir/":      "/blob/acct/container/dir",
	}
	for in, want := range tests {
		if got := canonicalResource("acct", in); got != want {
			t.Errorf("canonicalResource(%q) = %q, want %q", in, got, want)
		}
		again := canonicalResource("acct", strings.TrimPrefix(want, "/blob/acct/"))
		if again != want {
			t.Errorf("canonicalization is not idempotent for %q: %q", in, again)
		}
	}
}

func TestDefaultWindow(t *testing.T) {
	mock := clock.NewMock()
	now := time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
	mock.Set(now)
	s := newTestSigner(t, WithClock(mock))

	token, err := s.ServiceToken(ServiceOptions{Permissions: "cw", ResourcePath: "transcriptions", Resource: ResourceContainer})
	if err != nil {
		t.Fatalf("ServiceToken failed: %v", err)
	}
	if got := token.Get("st"); got != "2026-10-15T08:15:00Z" {
		t.Errorf("default start = %s, want 15 minutes before now", got)
	}
	if got := token.Get("se"); got != "2026-10-16T08:30:00Z" {
		t.Errorf("default expiry = %s, want 24 hours after now", got)
	}
	if !token.Expiry().Equal(now.Add(24 * time.Hour)) {
		t.Errorf("Expiry() = %v", token.Expiry())
	}
}

func TestServiceTokenValidation(t *testing.T) {
	s := newTestSigner(t)
	tests := []struct {
		name string
		opts ServiceOptions
	}{
		{"no permissions", ServiceOptions{ResourcePath: "c", Resource: ResourceContainer}},
		{"bad resource", ServiceOptions{Permissions: "r", ResourcePath: "c", Resource: "x"}},
		{"no path", ServiceOptions{Permissions: "r", ResourcePath: "/", Resource: ResourceContainer}},
		{"expiry before start", ServiceOptions{
			Permissions: "r", ResourcePath: "c", Resource: ResourceContainer,
			Start: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Expiry: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ServiceToken(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
