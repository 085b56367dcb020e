// hookkeygen generates a P-521 webhook signing keypair: a PEM private key
// for the signer and a JWKS document to serve from a jwks endpoint.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fenlandpay/paygate-go/internal/platform/webhook"
)

func main() {
	kid := flag.String("kid", "dev-hook", "key id to publish in the jwks document")
	privOut := flag.String("priv", "hook_key.pem", "output path for the PEM private key")
	jwksOut := flag.String("jwks", "hook_jwks.json", "output path for the jwks document")
	flag.Parse()

	if strings.TrimSpace(*kid) == "" {
		fmt.Fprintln(os.Stderr, "key id must be non-empty")
		os.Exit(2)
	}

	key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate p-521 keypair: %v\n", err)
		os.Exit(1)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal private key: %v\n", err)
		os.Exit(1)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(*privOut, pemBytes, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write private key: %v\n", err)
		os.Exit(1)
	}

	jwks, err := webhook.MarshalJWKS(map[string]*ecdsa.PublicKey{*kid: &key.PublicKey})
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal jwks: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*jwksOut, append(jwks, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write jwks: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s and %s (kid=%s)\n", *privOut, *jwksOut, *kid)
}
