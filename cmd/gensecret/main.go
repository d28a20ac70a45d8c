package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const defaultSecretBytesLen = 32

// Print random hex secret suitable for SECRET_KEY
func main() {
	n := pflag.IntP("bytes", "n", defaultSecretBytesLen, "Secret length in bytes")
	pflag.Parse()

	if *n < 16 {
		fmt.Fprintln(os.Stderr, "secret must be at least 16 bytes long")
		os.Exit(1)
	}

	b := make([]byte, *n)
	if _, err := rand.Read(b); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hex.EncodeToString(b))
}
