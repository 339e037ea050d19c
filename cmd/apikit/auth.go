package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"apikit/pkg/auth"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginTokenType  string
	loginExpiresIn  time.Duration
	loginTokenStdin bool
	logoutAll       bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API tokens",
	Long: `Manage stored API tokens securely.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (APIKIT_ACCESS_TOKEN, read only)

Stored tokens are sent as bearer tokens by get, list and sync.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store an API token securely",
	Long: `Store an API token in the system keychain or encrypted file.

The token is read without echo from the terminal, or from stdin with
--token-stdin.`,
	Example: `  # Interactive login for the default profile
  apikit auth login

  # Store a token for another profile that expires in an hour
  apikit auth login staging --expires-in 1h

  # Non-interactive
  echo "$TOKEN" | apikit auth login ci --token-stdin`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "Remove stored tokens",
	Example: `  apikit auth logout staging
  apikit auth logout --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"list"},
	Short:   "List stored tokens",
	Long:    `List stored tokens with the secret masked, their type and expiry.`,
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)

	loginCmd.Flags().StringVar(&loginTokenType, "token-type", "Bearer", "token type recorded with the token")
	loginCmd.Flags().DurationVar(&loginExpiresIn, "expires-in", 0, "token lifetime (0 for no expiry)")
	loginCmd.Flags().BoolVar(&loginTokenStdin, "token-stdin", false, "read the token from stdin")
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored token")
}

// profileArg picks the profile from args, then --profile, then the default
func profileArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	if profile != "" {
		return profile
	}
	return auth.DefaultProfile
}

func runLogin(cmd *cobra.Command, args []string) error {
	name := profileArg(args)
	manager, err := auth.NewManager(name, "")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	w := cmd.ErrOrStderr()
	if existing, _ := manager.Retrieve(name); existing != nil && !loginTokenStdin {
		fmt.Fprintf(w, "Profile '%s' already has a token. Replace it? (y/N): ", name)
		input, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	var token string
	if loginTokenStdin {
		token, err = readLine(cmd.InOrStdin())
	} else {
		fmt.Fprintf(w, "Token for profile '%s' (hidden): ", name)
		token, err = readPassword(cmd.InOrStdin())
		fmt.Fprintln(w)
	}
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	t := &auth.Token{
		Profile:      name,
		AccessToken:  token,
		TokenType:    loginTokenType,
		LastModified: time.Now(),
	}
	if loginExpiresIn > 0 {
		t.Expiry = time.Now().Add(loginExpiresIn)
	}

	if err := manager.Store(t); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Token stored for profile '%s' (%s)\n", name, auth.Sanitize(t).AccessToken)
	if name != auth.DefaultProfile {
		fmt.Fprintf(cmd.OutOrStdout(), "Use it with --profile %s or http.auth_profile in the config file\n", name)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager(profileArg(args), "")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if logoutAll {
		if err := manager.DeleteAll(); err != nil {
			return fmt.Errorf("failed to remove tokens: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All tokens removed")
		return nil
	}

	name := profileArg(args)
	if err := manager.Delete(name); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return fmt.Errorf("no token stored for profile '%s'", name)
		}
		return fmt.Errorf("failed to remove token: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token removed: %s\n", name)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager(profileArg(nil), "")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	tokens, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list tokens: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(tokens) == 0 {
		fmt.Fprintln(w, "No stored tokens. Use 'apikit auth login' to add one")
		return nil
	}

	now := time.Now()
	for i, token := range tokens {
		sanitized := auth.Sanitize(token)
		fmt.Fprintf(w, "%d. Profile: %s\n", i+1, sanitized.Profile)
		fmt.Fprintf(w, "   Token: %s %s\n", sanitized.TokenType, sanitized.AccessToken)
		switch {
		case token.Expiry.IsZero():
			fmt.Fprintln(w, "   Expires: never")
		case token.Expired(now):
			fmt.Fprintf(w, "   Expires: expired %s ago\n", now.Sub(token.Expiry).Round(time.Second))
		default:
			fmt.Fprintf(w, "   Expires: in %s\n", token.Expiry.Sub(now).Round(time.Second))
		}
		if !token.LastModified.IsZero() {
			fmt.Fprintf(w, "   Last Modified: %s\n", token.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// readPassword reads a secret without echo when in is a terminal
func readPassword(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}
	return readLine(in)
}

func readLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
