package client

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var ErrNoCredential = errors.New("no credential available")

// IdentityProvider supplies the bearer credential of the current user.
type IdentityProvider interface {
	Credential(ctx context.Context) (string, error)
}

// StaticIdentity is a fixed token.
type StaticIdentity string

func (s StaticIdentity) Credential(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// FileIdentity reads the token from a file on every call, so a token
// refreshed by another process is picked up.
type FileIdentity struct {
	Path string
}

func (f FileIdentity) Credential(context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", errors.Wrapf(err, "reading token file %s", f.Path)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", errors.Wrapf(ErrNoCredential, "token file %s is empty", f.Path)
	}
	return token, nil
}

var (
	_ IdentityProvider = StaticIdentity("")
	_ IdentityProvider = FileIdentity{}
)
