// Writes a bearer token for the http document store into a token file.
// The token is read from stdin so it never appears in shell history.
//
// Usage: echo "$TOKEN" | go run ./cmd/token-bootstrap --endpoint https://ledger.example.com/v1
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/ledgersync/internal/config"
	"github.com/tonimelisma/ledgersync/internal/tokenfile"
)

func main() {
	endpoint := flag.String("endpoint", "", "document store endpoint the token is issued for")
	path := flag.String("token-file", config.DefaultTokenPath(), "token file to write")
	expiresIn := flag.Duration("expires-in", 0, "token lifetime (0 = no expiry)")
	flag.Parse()

	if err := run(*endpoint, *path, *expiresIn); err != nil {
		fmt.Fprintf(os.Stderr, "token bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token saved to %s.\n", *path)
}

func run(endpoint, path string, expiresIn time.Duration) error {
	if path == "" {
		return fmt.Errorf("--token-file is required")
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading token from stdin: %w", err)
	}

	tok := &oauth2.Token{AccessToken: strings.TrimSpace(line), TokenType: "Bearer"}
	if expiresIn > 0 {
		tok.Expiry = time.Now().Add(expiresIn)
	}

	var meta map[string]string
	if endpoint != "" {
		meta = map[string]string{tokenfile.MetaEndpoint: endpoint}
	}

	return tokenfile.Save(path, tok, meta)
}
