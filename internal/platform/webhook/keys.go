package webhook

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fenlandpay/paygate-go/internal/platform/clock"
)

// Signing keys rotate infrequently, so fetched keysets are cached. A single
// refresh per origin is in flight at a time; concurrent verifications for the
// same origin share it.
const keysetTTL = 10 * time.Minute

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	KTY string `json:"kty"`
	CRV string `json:"crv"`
	KID string `json:"kid"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type keysetCache struct {
	http  *http.Client
	clock clock.Clock

	mu      sync.Mutex
	byURL   map[string]cachedKeyset
	refresh singleflight.Group
}

type cachedKeyset struct {
	keys      map[string]*ecdsa.PublicKey
	fetchedAt time.Time
}

func newKeysetCache(httpClient *http.Client, clk clock.Clock) *keysetCache {
	return &keysetCache{
		http:  httpClient,
		clock: clk,
		byURL: make(map[string]cachedKeyset),
	}
}

func (c *keysetCache) get(ctx context.Context, url string) (map[string]*ecdsa.PublicKey, error) {
	c.mu.Lock()
	cached, ok := c.byURL[url]
	c.mu.Unlock()
	if ok && c.clock.Now().Sub(cached.fetchedAt) < keysetTTL {
		return cached.keys, nil
	}

	v, err, _ := c.refresh.Do(url, func() (any, error) {
		return c.fetch(ctx, url)
	})
	if err != nil {
		// a stale keyset beats no keyset while the origin is unreachable
		if ok {
			return cached.keys, nil
		}
		return nil, err
	}
	return v.(map[string]*ecdsa.PublicKey), nil
}

func (c *keysetCache) fetch(ctx context.Context, url string) (map[string]*ecdsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks %s: status %d", url, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read jwks %s: %w", url, err)
	}
	keys, err := parseJWKS(raw)
	if err != nil {
		return nil, fmt.Errorf("parse jwks %s: %w", url, err)
	}

	c.mu.Lock()
	c.byURL[url] = cachedKeyset{keys: keys, fetchedAt: c.clock.Now()}
	c.mu.Unlock()
	return keys, nil
}

func parseJWKS(raw []byte) (map[string]*ecdsa.PublicKey, error) {
	var doc jwksDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	keys := make(map[string]*ecdsa.PublicKey)
	for _, k := range doc.Keys {
		if k.KTY != "EC" || k.CRV != "P-521" || k.KID == "" {
			continue
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("key %s: decode x: %w", k.KID, err)
		}
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("key %s: decode y: %w", k.KID, err)
		}
		keys[k.KID] = &ecdsa.PublicKey{
			Curve: elliptic.P521(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks contains no usable P-521 keys")
	}
	return keys, nil
}

// MarshalJWKS renders a keyset document for the given public keys, kid to
// key. Used by the key tooling and tests.
func MarshalJWKS(keys map[string]*ecdsa.PublicKey) ([]byte, error) {
	doc := jwksDocument{}
	for kid, pub := range keys {
		size := (pub.Curve.Params().BitSize + 7) / 8
		doc.Keys = append(doc.Keys, jwksKey{
			KTY: "EC",
			CRV: "P-521",
			KID: kid,
			X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size))),
			Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size))),
		})
	}
	return json.Marshal(doc)
}
