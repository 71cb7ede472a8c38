package mosapi

import (
	"compress/gzip"
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Response is the raw result of one HTTP exchange. Body is fully read and,
// when the server answered with Content-Encoding: gzip, already
// decompressed.
type Response struct {
	StatusCode int
	Body       string
	Header     http.Header
}

// Transport issues raw HTTPS requests over a TLS-client-authenticated
// channel. It performs no retries and no status interpretation; network
// and TLS failures surface as KindTransport errors.
type Transport struct {
	client *http.Client
}

// TransportOption customises a Transport.
type TransportOption func(*transportOptions)

type transportOptions struct {
	timeout    time.Duration
	httpClient *http.Client
}

// WithTimeout sets the per-request timeout. Defaults to 60 seconds.
func WithTimeout(d time.Duration) TransportOption {
	return func(o *transportOptions) { o.timeout = d }
}

// WithHTTPClient replaces the constructed client entirely. The client
// certificate configuration is skipped; tests use this to point the
// Transport at an httptest server.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(o *transportOptions) { o.httpClient = c }
}

// NewTransport builds a Transport that presents the given client
// certificate and private key on every connection. Both inputs are PEM;
// the key may also arrive as bare base64 DER without guard lines, as
// secret managers often export it. The key algorithm is derived from the
// certificate's public key, not assumed to be RSA.
func NewTransport(certPEM, keyPEM []byte, opts ...TransportOption) (*Transport, error) {
	o := transportOptions{timeout: 60 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	if o.httpClient != nil {
		return &Transport{client: o.httpClient}, nil
	}

	cert, err := clientKeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("mosapi: build client key pair: %w", err)
	}

	return &Transport{
		client: &http.Client{
			Timeout: o.timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				},
			},
		},
	}, nil
}

// Do sends one request with the headers applied verbatim and returns the
// status, decompressed body and response headers. A non-2xx status is not
// an error at this layer.
func (t *Transport) Do(ctx context.Context, method, rawURL string, headers map[string]string, body string) (*Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, transportErr("build request for "+rawURL, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, transportErr(fmt.Sprintf("%s %s", method, rawURL), err)
	}
	defer resp.Body.Close()

	// The client sets Accept-Encoding explicitly, which disables Go's
	// automatic gunzip. Undo the compression here so callers always see
	// plain text.
	var bodyReader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, transportErr("open gzip body", err)
		}
		defer gz.Close()
		bodyReader = gz
	}

	data, err := io.ReadAll(bodyReader)
	if err != nil {
		return nil, transportErr("read response body", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       string(data),
		Header:     resp.Header,
	}, nil
}

// clientKeyPair assembles a tls.Certificate from PEM cert and key
// material. The certificate's public key decides how the private key DER
// is parsed: PKCS#8 first, then PKCS#1 for RSA or SEC1 for EC.
func clientKeyPair(certPEM, keyPEM []byte) (tls.Certificate, error) {
	block := findPEMBlock(certPEM, "CERTIFICATE")
	if block == nil {
		return tls.Certificate{}, fmt.Errorf("no CERTIFICATE block in PEM input")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate: %w", err)
	}

	keyDER, err := decodeKeyMaterial(keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode private key: %w", err)
	}

	var key any
	switch leaf.PublicKey.(type) {
	case *rsa.PublicKey:
		key, err = parseRSAKey(keyDER)
	case *ecdsa.PublicKey:
		key, err = parseECKey(keyDER)
	default:
		return tls.Certificate{}, fmt.Errorf("unsupported public key algorithm %T", leaf.PublicKey)
	}
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{block.Bytes},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

func parseRSAKey(der []byte) (any, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key is %T, certificate expects RSA", key)
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse RSA key (PKCS#8/PKCS#1): %w", err)
	}
	return key, nil
}

func parseECKey(der []byte) (any, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key is %T, certificate expects EC", key)
		}
		return ecKey, nil
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse EC key (PKCS#8/SEC1): %w", err)
	}
	return key, nil
}

// decodeKeyMaterial strips every -----BEGIN/END----- guard line and all
// whitespace, then base64-decodes what remains. This accepts both proper
// PEM and the bare base64 bodies that secret stores hand back.
func decodeKeyMaterial(in []byte) ([]byte, error) {
	var b strings.Builder
	for _, line := range strings.Split(string(in), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		b.WriteString(line)
	}
	der, err := base64.StdEncoding.DecodeString(b.String())
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return der, nil
}

// findPEMBlock returns the first block of the given type, skipping any
// preamble blocks (bundled intermediates keep their order).
func findPEMBlock(data []byte, blockType string) *pem.Block {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil
		}
		if block.Type == blockType {
			return block
		}
	}
}
