// Package secrets resolves secret references found in server configuration.
//
// A reference names where a secret lives rather than carrying it:
//
//	env:REMOTE_TOKEN            environment variable
//	keyring:mcphub/remote       OS keyring entry (service/user)
//	literal:s3cr3t              the value itself
//
// A reference without a recognised prefix is treated as a literal.
package secrets

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// Sentinel errors returned by resolvers.
var (
	// ErrSecretNotFound indicates the referenced secret does not exist.
	ErrSecretNotFound = stderrors.New("secret not found")

	// ErrInvalidReference indicates a reference that cannot be parsed.
	ErrInvalidReference = stderrors.New("invalid secret reference")
)

// Resolver turns a secret reference into its value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Compile-time verification that DefaultResolver implements Resolver.
var _ Resolver = (*DefaultResolver)(nil)

// DefaultResolver resolves env:, keyring: and literal: references.
type DefaultResolver struct {
	// LookupEnv reads environment variables. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// NewResolver creates a resolver backed by the process environment and the
// OS keyring.
func NewResolver() *DefaultResolver {
	return &DefaultResolver{LookupEnv: os.LookupEnv}
}

// Resolve implements Resolver. An empty reference resolves to an empty
// value so that optional secrets need no special casing.
func (r *DefaultResolver) Resolve(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}

	scheme, rest, found := strings.Cut(ref, ":")
	if !found {
		return ref, nil
	}

	switch scheme {
	case "env":
		return r.env(rest)
	case "keyring":
		return fromKeyring(rest)
	case "literal":
		return rest, nil
	default:
		return ref, nil
	}
}

func (r *DefaultResolver) env(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: env reference needs a variable name", ErrInvalidReference)
	}

	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	value, ok := lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %s", ErrSecretNotFound, name)
	}

	return value, nil
}

func fromKeyring(path string) (string, error) {
	service, user, ok := strings.Cut(path, "/")
	if !ok || service == "" || user == "" {
		return "", fmt.Errorf("%w: keyring reference must be keyring:service/user", ErrInvalidReference)
	}

	value, err := keyring.Get(service, user)
	if err != nil {
		if stderrors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: keyring %s/%s", ErrSecretNotFound, service, user)
		}

		return "", fmt.Errorf("keyring error: %w", err)
	}

	return value, nil
}
