// Package walletkey implements the walletkey operator tool: identity key
// generation, call token signing and deploy key hashing.
package walletkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/congo-pay/rent_wallet/internal/auth"
)

const usage = `usage: walletkey <command> [flags]

commands:
  keygen            generate an identity key pair
  sign              sign a call token for one operation and request body
  hash-deploy-key   hash a deploy key for DEPLOY_KEY_HASH`

// Run dispatches args to a subcommand. reader supplies key entropy and
// defaults to crypto/rand.
func Run(args []string, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "keygen":
		return keygen(out, reader)
	case "sign":
		return sign(args[1:], out)
	case "hash-deploy-key":
		return hashDeployKey(args[1:], out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func keygen(out io.Writer, reader io.Reader) error {
	if reader == nil {
		reader = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export WALLET_ADDRESS=%s\n", auth.AddressFromPublicKey(pub)); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "export WALLET_PRIVATE_KEY=%s\n", auth.EncodePrivateKey(priv))
	return err
}

func sign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fn := fs.String("fn", "", "operation to authorize (credit, debit, set_admin, pause, unpause)")
	key := fs.String("key", os.Getenv("WALLET_PRIVATE_KEY"), "base64url private key seed")
	audience := fs.String("aud", envOr("TOKEN_AUDIENCE", "rent_wallet"), "token audience")
	ttl := fs.Duration("ttl", time.Minute, "token lifetime")
	body := fs.String("body", "", "exact request body the token authorizes")
	bodyFile := fs.String("body-file", "", "read the request body from a file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*fn) == "" {
		return errors.New("-fn is required")
	}
	if strings.TrimSpace(*key) == "" {
		return errors.New("-key or WALLET_PRIVATE_KEY is required")
	}
	priv, err := auth.DecodePrivateKey(*key)
	if err != nil {
		return err
	}
	payload := []byte(*body)
	if *bodyFile != "" {
		if *body != "" {
			return errors.New("-body and -body-file are mutually exclusive")
		}
		if payload, err = os.ReadFile(*bodyFile); err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}
	token, err := auth.NewSigner(priv, *audience, *ttl).Sign(*fn, payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func hashDeployKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hash-deploy-key", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	key := fs.String("key", "", "deploy key to hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hash, err := auth.HashDeployKey(*key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "export DEPLOY_KEY_HASH='%s'\n", hash)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
