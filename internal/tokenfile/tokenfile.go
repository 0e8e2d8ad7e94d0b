// Package tokenfile handles reading and writing the bearer token used to
// authenticate against the remote document store. Token files store an
// OAuth2 token alongside the endpoint it was issued for.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the tokens directory.
const DirPerms = 0o700

// MetaEndpoint is the metadata key holding the endpoint a token belongs to.
const MetaEndpoint = "endpoint"

// ErrNoToken is returned by Source when neither the environment nor the
// token file provides a token.
var ErrNoToken = errors.New("tokenfile: no token available")

// File is the on-disk format for token files. Meta carries the endpoint
// the token was issued for under MetaEndpoint.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads a saved token file from disk. Returns the OAuth token and any
// metadata. Returns (nil, nil, nil) if the file does not exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field", path)
	}

	if tf.Token.AccessToken == "" {
		return nil, nil, fmt.Errorf("tokenfile: %s has empty credentials", path)
	}

	return tf.Token, tf.Meta, nil
}

// Save writes a token file to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("tokenfile: refusing to save an empty token")
	}

	tf := File{Token: tok, Meta: meta}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up temp file on any error path.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial token file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Source returns the token source for the remote store. A non-empty
// envToken wins over the file. A file token issued for a different
// endpoint is rejected, as is one that has expired.
func Source(path, envToken, endpoint string) (oauth2.TokenSource, error) {
	if envToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: envToken, TokenType: "Bearer"}), nil
	}

	if path == "" {
		return nil, ErrNoToken
	}

	tok, meta, err := Load(path)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, fmt.Errorf("%w: %s does not exist", ErrNoToken, path)
	}

	if saved := meta[MetaEndpoint]; saved != "" && endpoint != "" && saved != endpoint {
		return nil, fmt.Errorf("tokenfile: %s was issued for %s, not %s", path, saved, endpoint)
	}

	if !tok.Valid() {
		return nil, fmt.Errorf("tokenfile: token in %s has expired", path)
	}

	return oauth2.ReuseTokenSource(tok, oauth2.StaticTokenSource(tok)), nil
}
