// Package rpc implements gateway.API over gRPC.
package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/leaguechat/internal/wire"
)

// DialConfig describes how to reach the backend.
type DialConfig struct {
	Addr      string
	CAFile    string // PEM bundle; system roots when empty
	SkipTLS   bool   // verify nothing (development only)
	Plaintext bool   // no TLS at all
	Token     string // bearer token attached to every call
}

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // opt-in
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// DialOptions builds the client options for cfg. Extra options are appended.
func DialOptions(cfg DialConfig, extra ...grpc.DialOption) ([]grpc.DialOption, error) {
	var creds credentials.TransportCredentials
	if cfg.Plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(cfg.CAFile, cfg.SkipTLS)
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		creds = c
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	}
	if cfg.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: cfg.Token, secure: !cfg.Plaintext}))
	}
	return append(opts, extra...), nil
}

// Dial connects lazily to cfg.Addr and returns a ready client.
func Dial(cfg DialConfig, extra ...grpc.DialOption) (*Client, error) {
	opts, err := DialOptions(cfg, extra...)
	if err != nil {
		return nil, err
	}
	cc, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	return NewClient(cc), nil
}
