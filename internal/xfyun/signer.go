// Package xfyun implements the signed WebSocket clients for the iFlytek
// speech synthesis and Spark chat APIs.
package xfyun

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	signatureAlgorithm = "hmac-sha256"
	signedHeaders      = "host date request-line"
	authorizationFmt   = `api_key="%s", algorithm="%s", headers="%s", signature="%s"`
	canonicalFmt       = "host: %s\ndate: %s\nGET %s HTTP/1.1"
)

// Credentials identify one application against one endpoint.
type Credentials struct {
	AppID     string
	APIKey    string
	APISecret string
	Endpoint  string
}

// Signer builds time-stamped, HMAC-signed connection URLs for one endpoint.
// It holds no mutable state and is safe for concurrent use.
type Signer struct {
	apiKey    string
	apiSecret string
	endpoint  url.URL
}

// NewSigner validates the endpoint once so that signing itself cannot fail.
func NewSigner(creds Credentials) (*Signer, error) {
	endpoint, err := url.Parse(creds.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: parse endpoint %q: %w", ErrSigningInput, creds.Endpoint, err)
	}

	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, fmt.Errorf("%w: endpoint %q must use ws or wss", ErrSigningInput, creds.Endpoint)
	}

	if endpoint.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q has no host", ErrSigningInput, creds.Endpoint)
	}

	if endpoint.Path == "" {
		endpoint.Path = "/"
	}

	return &Signer{
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
		endpoint:  *endpoint,
	}, nil
}

// Host returns the host the signature is bound to.
func (s *Signer) Host() string {
	return s.endpoint.Host
}

// SignedURL returns the endpoint with authorization, date and host query
// parameters computed for now.
func (s *Signer) SignedURL(now time.Time) string {
	date := now.UTC().Format(http.TimeFormat)

	signed := s.endpoint
	query := signed.Query()
	query.Set("authorization", s.authorization(date))
	query.Set("date", date)
	query.Set("host", s.endpoint.Host)
	signed.RawQuery = query.Encode()

	return signed.String()
}

func (s *Signer) authorization(date string) string {
	canonical := fmt.Sprintf(canonicalFmt, s.endpoint.Host, date, s.endpoint.EscapedPath())

	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	origin := fmt.Sprintf(authorizationFmt, s.apiKey, signatureAlgorithm, signedHeaders, signature)

	return base64.StdEncoding.EncodeToString([]byte(origin))
}
