package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/auth"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// runToken mints a bearer token for the diagnostics API, signed with the
// configured secret, and writes it to out.
//
// The gateway keeps no user accounts; operators hand these tokens to the
// tools that call the mutating endpoints.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "token subject, e.g. an operator or tool name (required)")
	role := fs.String("role", string(auth.RoleViewer), "token role: viewer or operator")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := auth.GenerateToken(*subject, auth.Role(*role), cfg.Security.JWTSecret, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
