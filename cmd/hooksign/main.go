// hooksign produces a detached signature for a webhook body, for replaying
// provider notifications against a local paygated.
package main

import (
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fenlandpay/paygate-go/internal/platform/webhook"
)

func main() {
	keyPath := flag.String("key", "hook_key.pem", "PEM private key from hookkeygen")
	kid := flag.String("kid", "dev-hook", "key id published in the jwks document")
	jku := flag.String("jku", "", "jwks endpoint url the receiver trusts")
	path := flag.String("path", "/tl_webhook", "request path being signed")
	in := flag.String("in", "", "webhook body file (defaults to stdin)")
	flag.Parse()

	if *jku == "" {
		fmt.Fprintln(os.Stderr, "usage: hooksign --key hook_key.pem --kid dev-hook --jku <jwks url> [--path /tl_webhook] [--in body.json]")
		os.Exit(2)
	}

	body, err := readBody(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read body: %v\n", err)
		os.Exit(1)
	}

	pemBytes, err := os.ReadFile(*keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read private key: %v\n", err)
		os.Exit(1)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		fmt.Fprintln(os.Stderr, "no pem block in key file")
		os.Exit(1)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse private key: %v\n", err)
		os.Exit(1)
	}

	sig, err := webhook.Sign(key, *kid, *jku, "POST", *path, nil, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign body: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(sig)
}

func readBody(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(os.Stdin)
}
