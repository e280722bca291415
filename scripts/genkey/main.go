// genkey generates an Ed25519 agent key pair and stores the private key
// encrypted under a password in a local sqlite keystore.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go -keystore data/keystore.db
//
// The password is read from the TRUST_KEY_PASSWORD environment variable.
// Prints the public key hex and the derived agent id; register the agent
// with POST /api/agents using the printed public key.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wrentheai/trust-infra/internal/integrity"
	"github.com/wrentheai/trust-infra/internal/keystore"
)

func main() {
	path := flag.String("keystore", "data/keystore.db", "path to the sqlite keystore")
	flag.Parse()

	password := os.Getenv("TRUST_KEY_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "error: TRUST_KEY_PASSWORD must be set")
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(*path), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot create %s: %v\n", filepath.Dir(*path), err)
		os.Exit(1)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	pubHex := hex.EncodeToString(pub)
	agentID, err := integrity.DeriveAgentID(pubHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: derive agent id: %v\n", err)
		os.Exit(1)
	}

	ek, err := keystore.Encrypt(priv, password, agentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: encrypt key: %v\n", err)
		os.Exit(1)
	}

	store, err := keystore.OpenStore(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open keystore: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Put(context.Background(), ek); err != nil {
		fmt.Fprintf(os.Stderr, "error: store key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("public_key: %s\n", pubHex)
	fmt.Printf("agent_id:   %s\n", agentID)
	fmt.Printf("keystore:   %s\n", *path)
}
