// Package sas computes shared access signature tokens for Azure blob storage.
// Tokens are query string credentials that are time boxed and scope limited,
// so the account key itself never leaves the process.
package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/azscribe/domain"
)

const (
	// Version is the storage service version the string-to-sign layout belongs to
	Version = "2020-12-06"

	defaultStartSkew = 15 * time.Minute
	defaultValidity  = 24 * time.Hour
	protocolHTTPS    = "https"
	serviceBlob      = "b"
	timeFormat       = "2006-01-02T15:04:05Z"
)

// Resource is the signed resource of a service token
type Resource string

const (
	ResourceContainer Resource = "c"
	ResourceBlob      Resource = "b"
)

// Param is a single query parameter of a token
type Param struct {
	Key   string
	Value string
}

// Token is a generated SAS token. It is immutable.
type Token struct {
	params    []Param
	signature string
	expiry    time.Time
}

// Get returns the value of a token parameter
func (t Token) Get(key string) string {
	if key == "sig" {
		return t.signature
	}
	for _, p := range t.params {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// Signature returns the base64 encoded signature
func (t Token) Signature() string { return t.signature }

// Expiry returns the time the token stops being valid
func (t Token) Expiry() time.Time { return t.expiry }

// Encode returns the token as a query string fragment. The signature is always the last parameter.
func (t Token) Encode() string {
	var b strings.Builder
	for _, p := range t.params {
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
		b.WriteByte('&')
	}
	b.WriteString("sig=")
	b.WriteString(url.QueryEscape(t.signature))
	return b.String()
}

func (t Token) String() string { return t.Encode() }

// AccountOptions configures an account scoped token
type AccountOptions struct {
	// Permissions e.g. "rl" or "cw"
	Permissions string
	// ResourceTypes is any combination of s (service), c (container), o (object)
	ResourceTypes   string
	Start           time.Time
	Expiry          time.Time
	IP              string
	EncryptionScope string
}

// ServiceOptions configures a token for a single container or blob
type ServiceOptions struct {
	Permissions string
	// ResourcePath is "container" or "container/path/to/blob"
	ResourcePath    string
	Resource        Resource
	Start           time.Time
	Expiry          time.Time
	IP              string
	EncryptionScope string
}

// Signer generates SAS tokens from an account name and key
type Signer struct {
	account string
	key     []byte
	clock   clock.Clock
}

// Option configures a Signer
type Option func(*Signer)

// WithClock replaces the clock used for default start and expiry times
func WithClock(c clock.Clock) Option {
	return func(s *Signer) {
		s.clock = c
	}
}

// NewSigner creates a signer. Both the account name and the base64 account key are required.
func NewSigner(accountName, accountKey string, opts ...Option) (*Signer, error) {
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("%w: storage account name and access key are required", domain.ErrConfiguration)
	}
	key, err := base64.StdEncoding.DecodeString(accountKey)
	if err != nil {
		return nil, fmt.Errorf("%w: storage account key is not valid base64: %v", domain.ErrConfiguration, err)
	}

	s := &Signer{
		account: accountName,
		key:     key,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccountName returns the storage account the signer signs for
func (s *Signer) AccountName() string {
	return s.account
}

// Now returns the current time of the signer's clock
func (s *Signer) Now() time.Time {
	return s.clock.Now()
}

// AccountToken generates an account scoped token for the blob service
func (s *Signer) AccountToken(opts AccountOptions) (Token, error) {
	if opts.Permissions == "" {
		return Token{}, errors.New("permissions cannot be empty")
	}
	if opts.ResourceTypes == "" {
		return Token{}, errors.New("resource types cannot be empty")
	}
	start, expiry, err := s.window(opts.Start, opts.Expiry)
	if err != nil {
		return Token{}, err
	}

	st, se := formatTime(start), formatTime(expiry)
	stringToSign := accountStringToSign(s.account, opts.Permissions, opts.ResourceTypes, st, se, opts.IP, opts.EncryptionScope)

	params := []Param{
		{"sv", Version},
		{"ss", serviceBlob},
		{"srt", opts.ResourceTypes},
		{"sp", opts.Permissions},
		{"st", st},
		{"se", se},
	}
	if opts.IP != "" {
		params = append(params, Param{"sip", opts.IP})
	}
	params = append(params, Param{"spr", protocolHTTPS})
	if opts.EncryptionScope != "" {
		params = append(params, Param{"ses", opts.EncryptionScope})
	}

	return Token{params: params, signature: s.sign(stringToSign), expiry: expiry}, nil
}

// ServiceToken generates a token scoped to one container or blob
func (s *Signer) ServiceToken(opts ServiceOptions) (Token, error) {
	if opts.Permissions == "" {
		return Token{}, errors.New("permissions cannot be empty")
	}
	if opts.Resource != ResourceContainer && opts.Resource != ResourceBlob {
		return Token{}, fmt.Errorf("unsupported signed resource %q", opts.Resource)
	}
	if strings.Trim(opts.ResourcePath, "/") == "" {
		return Token{}, errors.New("resource path cannot be empty")
	}
	start, expiry, err := s.window(opts.Start, opts.Expiry)
	if err != nil {
		return Token{}, err
	}

	st, se := formatTime(start), formatTime(expiry)
	stringToSign := serviceStringToSign(opts.Permissions, st, se,
		canonicalResource(s.account, opts.ResourcePath), opts.IP, string(opts.Resource), opts.EncryptionScope)

	params := []Param{
		{"sv", Version},
		{"sr", string(opts.Resource)},
		{"sp", opts.Permissions},
		{"st", st},
		{"se", se},
	}
	if opts.IP != "" {
		params = append(params, Param{"sip", opts.IP})
	}
	params = append(params, Param{"spr", protocolHTTPS})
	if opts.EncryptionScope != "" {
		params = append(params, Param{"ses", opts.EncryptionScope})
	}

	return Token{params: params, signature: s.sign(stringToSign), expiry: expiry}, nil
}

func (s *Signer) window(start, expiry time.Time) (time.Time, time.Time, error) {
	now := s.clock.Now()
	if start.IsZero() {
		start = now.Add(-defaultStartSkew)
	}
	if expiry.IsZero() {
		expiry = now.Add(defaultValidity)
	}
	if !expiry.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("expiry %s must be after start %s", formatTime(expiry), formatTime(start))
	}
	return start.UTC().Truncate(time.Second), expiry.UTC().Truncate(time.Second), nil
}

func (s *Signer) sign(stringToSign string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func accountStringToSign(account, permissions, resourceTypes, start, expiry, ip, encryptionScope string) string {
	return strings.Join([]string{
		account,
		permissions,
		serviceBlob,
		resourceTypes,
		start,
		expiry,
		ip,
		protocolHTTPS,
		Version,
		encryptionScope,
	}, "\n") + "\n"
}

func serviceStringToSign(permissions, start, expiry, resource, ip, signedResource, encryptionScope string) string {
	return strings.Join([]string{
		permissions,
		start,
		expiry,
		resource,
		"", // signed identifier
		ip,
		protocolHTTPS,
		Version,
		signedResource,
		"", // snapshot time
		encryptionScope,
		"", // rscc
		"", // rscd
		"", // rsce
		"", // rscl
		"", // rsct
	}, "\n")
}

// canonicalResource returns /blob/{account}/{path} without a trailing slash
func canonicalResource(account, resourcePath string) string {
	p := strings.TrimPrefix(resourcePath, "/")
	p = strings.TrimSuffix(p, "/")
	return "/blob/" + account + "/" + p
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
