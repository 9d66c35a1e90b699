// Package main provides a utility to generate a Security Profile 1/2
// authorization key for config.yaml.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

func main() {
	// OCPP 1.6 security whitepaper: AuthorizationKey must be 16-40 hex
	// characters, i.e. 8-20 random bytes. 20 bytes gives the maximum.
	key := make([]byte, 20)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "error generating random key: %v\n", err)
		os.Exit(1)
	}

	keyStr := hex.EncodeToString(key)

	fmt.Println("Authorization key (add this to config.yaml under security.authorization_key):")
	fmt.Println(keyStr)
}
