package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/pdm-core/internal/auth"
	"github.com/nerrad567/pdm-core/internal/infrastructure/config"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	Secret     string
	ConfigPath string
	Subject    string
	Role       string
	TTL        time.Duration
}

// TokenResult is the JSON payload of token.
type TokenResult struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the diagnostics API",
		Long: `Token signs an access token with the service's JWT secret. The secret
comes from --secret, then PDM_JWT_SECRET, then the security.jwt.secret of
the file named by --config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", "", "JWT signing secret")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "read the secret from this service config file")
	cmd.Flags().StringVar(&opts.Subject, "subject", "pdmsim", "token subject, logged with every change it makes")
	cmd.Flags().StringVar(&opts.Role, "role", string(auth.RoleOperator), "role: viewer, operator or admin")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", auth.DefaultTTL, "token lifetime")

	return cmd
}

func runToken(cmd *cobra.Command, rootOpts *RootOptions, opts *TokenOptions) error {
	out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	secret, err := opts.secret()
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeLoad, err)
	}
	if opts.TTL <= 0 {
		return out.Fail(ExitCommandError, ErrCodeArgument, errors.New("ttl must be positive"))
	}

	role := auth.Role(opts.Role)
	issued := time.Now()
	token, err := auth.GenerateAccessToken(opts.Subject, role, secret, opts.TTL)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeToken, err)
	}

	if out.JSON() {
		return out.Success(TokenResult{
			Token:     token,
			Subject:   opts.Subject,
			Role:      role,
			ExpiresAt: issued.Add(opts.TTL).UTC().Truncate(time.Second),
		})
	}
	out.VerboseLog("%s token for %q valid for %v", role, opts.Subject, opts.TTL)
	fmt.Fprintln(out.Writer, token)
	return nil
}

// secret resolves the signing secret in flag, environment, file order.
func (o *TokenOptions) secret() (string, error) {
	if o.Secret != "" {
		return o.Secret, nil
	}
	if v := os.Getenv("PDM_JWT_SECRET"); v != "" {
		return v, nil
	}
	if o.ConfigPath != "" {
		cfg, err := config.Load(o.ConfigPath)
		if err != nil {
			return "", err
		}
		if cfg.Security.JWT.Secret != "" {
			return cfg.Security.JWT.Secret, nil
		}
	}
	return "", auth.ErrNoSecret
}
