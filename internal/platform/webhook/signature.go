// Package webhook verifies and dispatches provider event notifications.
// Authenticity rests on a detached JWS in the Tl-Signature header whose
// signing keys are fetched from an allow-listed origin named by the header
// itself.
package webhook

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fenlandpay/paygate-go/internal/platform/clock"
)

// ErrUnauthorized covers every verification failure. Senders only ever see
// 401; the reason stays in the logs.
var ErrUnauthorized = errors.New("webhook: unauthorized")

const (
	signatureHeader  = "Tl-Signature"
	signatureVersion = "2"
)

// DefaultAllowedKeyOrigins are the provider jwks endpoints trusted to supply
// webhook signing keys.
var DefaultAllowedKeyOrigins = []string{
	"https://webhooks.truelayer.com/.well-known/jwks",
	"https://webhooks.truelayer-sandbox.com/.well-known/jwks",
}

type jwsHeader struct {
	Alg       string `json:"alg"`
	KID       string `json:"kid"`
	TLVersion string `json:"tl_version"`
	TLHeaders string `json:"tl_headers"`
	JKU       string `json:"jku"`
}

// Verifier establishes that an inbound notification was signed by the
// provider. Any failure at any step is ErrUnauthorized, never a partial
// success.
type Verifier struct {
	allowed map[string]struct{}
	keys    *keysetCache
}

func NewVerifier(allowedKeyOrigins []string, httpClient *http.Client, clk clock.Clock) *Verifier {
	allowed := make(map[string]struct{}, len(allowedKeyOrigins))
	for _, origin := range allowedKeyOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Verifier{
		allowed: allowed,
		keys:    newKeysetCache(httpClient, clk),
	}
}

// Verify checks the request's detached signature over method, path, the
// signed headers and the body.
func (v *Verifier) Verify(r *http.Request, body []byte) error {
	raw := r.Header.Get(signatureHeader)
	if raw == "" {
		return fmt.Errorf("%w: missing %s header", ErrUnauthorized, signatureHeader)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[1] != "" {
		return fmt.Errorf("%w: signature is not a detached jws", ErrUnauthorized)
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return fmt.Errorf("%w: decode jws header: %v", ErrUnauthorized, err)
	}
	var header jwsHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return fmt.Errorf("%w: parse jws header: %v", ErrUnauthorized, err)
	}
	if header.Alg != jwt.SigningMethodES512.Alg() {
		return fmt.Errorf("%w: unexpected alg %q", ErrUnauthorized, header.Alg)
	}
	if header.TLVersion != signatureVersion {
		return fmt.Errorf("%w: unexpected tl_version %q", ErrUnauthorized, header.TLVersion)
	}
	if header.JKU == "" {
		return fmt.Errorf("%w: jku missing", ErrUnauthorized)
	}
	if _, ok := v.allowed[header.JKU]; !ok {
		return fmt.Errorf("%w: unpermitted jku %q", ErrUnauthorized, header.JKU)
	}

	keys, err := v.keys.get(r.Context(), header.JKU)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	key, ok := keys[header.KID]
	if !ok {
		return fmt.Errorf("%w: unknown kid %q", ErrUnauthorized, header.KID)
	}

	payload := signingPayload(r.Method, r.URL.Path, signedHeaders(header.TLHeaders, r.Header), body)
	signingInput := parts[0] + "." + base64.RawURLEncoding.EncodeToString(payload)
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", ErrUnauthorized, err)
	}
	if err := jwt.SigningMethodES512.Verify(signingInput, sig, key); err != nil {
		return fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}
	return nil
}

func signedHeaders(tlHeaders string, h http.Header) [][2]string {
	if strings.TrimSpace(tlHeaders) == "" {
		return nil
	}
	names := strings.Split(tlHeaders, ",")
	out := make([][2]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, [2]string{name, h.Get(name)})
	}
	return out
}

// signingPayload reconstructs the canonical input: request line, the signed
// headers in declared order, then the raw body.
func signingPayload(method, path string, headers [][2]string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteString(" ")
	b.WriteString(path)
	b.WriteString("\n")
	for _, h := range headers {
		b.WriteString(h[0])
		b.WriteString(": ")
		b.WriteString(h[1])
		b.WriteString("\n")
	}
	payload := make([]byte, 0, b.Len()+len(body))
	payload = append(payload, b.String()...)
	payload = append(payload, body...)
	return payload
}

// Sign produces a detached-JWS Tl-Signature value for the given request
// shape. It is the counterpart of Verifier.Verify, used by cmd/hooksign and
// tests.
func Sign(key *ecdsa.PrivateKey, kid, jku, method, path string, headers [][2]string, body []byte) (string, error) {
	names := make([]string, 0, len(headers))
	for _, h := range headers {
		names = append(names, h[0])
	}
	headerRaw, err := json.Marshal(jwsHeader{
		Alg:       jwt.SigningMethodES512.Alg(),
		KID:       kid,
		TLVersion: signatureVersion,
		TLHeaders: strings.Join(names, ","),
		JKU:       jku,
	})
	if err != nil {
		return "", fmt.Errorf("encode jws header: %w", err)
	}
	headerB64 := base64.RawURLEncoding.EncodeToString(headerRaw)
	payload := signingPayload(method, path, headers, body)
	signingInput := headerB64 + "." + base64.RawURLEncoding.EncodeToString(payload)

	sig, err := jwt.SigningMethodES512.Sign(signingInput, key)
	if err != nil {
		return "", fmt.Errorf("sign webhook payload: %w", err)
	}
	return headerB64 + ".." + base64.RawURLEncoding.EncodeToString(sig), nil
}
