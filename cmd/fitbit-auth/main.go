package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sstent/fitbitkml/internal/config"
	"github.com/sstent/fitbitkml/internal/fitbit"
	"github.com/sstent/fitbitkml/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "fitbit-auth",
	Short: "Authorize fitbitkml against the Fitbit Web API",
	Long: `fitbit-auth runs the OAuth2 authorization code flow with PKCE:
1. Prints the Fitbit authorization URL
2. Reads the redirect URL pasted back from the browser
3. Exchanges the code for tokens
4. Writes the tokens file used by dump-activities and download-tcx

FB_CLIENT_ID and FB_CLIENT_SECRET must be set (environment or .env).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAuth,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func init() {
	rootCmd.Flags().String("token-file", "", "Where to write the tokens (default: $FB_TOKENS_FILE, $FB_CLIENT_SECRET_FILE or tokens.json)")
	rootCmd.Flags().String("redirect-uri", "", "Redirect URI registered for the Fitbit application (default: https://localhost:8080/callback)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	_ = viper.BindPFlag(config.KeyTokenFile, rootCmd.Flags().Lookup("token-file"))
	_ = viper.BindPFlag(config.KeyRedirectURL, rootCmd.Flags().Lookup("redirect-uri"))
	_ = viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(config.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	authorizer, err := fitbit.NewAuthorizer(cfg, nil)
	if err != nil {
		return err
	}

	logging.Info().
		Str("client_id", truncate(cfg.ClientID, 8)+"...").
		Str("redirect_uri", authorizer.RedirectURL()).
		Strs("scopes", fitbit.Scopes).
		Msg("starting_authorization")

	out := cmd.OutOrStdout()
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(out, "\n%s\nSTEP 1: Visit the following URL to authorize the application:\n%s\n\n%s\n\n%s\n",
		rule, rule, authorizer.AuthCodeURL(), rule)
	fmt.Fprintln(out, "\nSTEP 2: After authorizing, you'll be redirected to a URL which may display an error in the browser.")
	fmt.Fprintln(out, "Copy the entire URL from your browser and paste it here.")
	fmt.Fprint(out, "\nPaste the callback URL here: ")

	callback, err := readLine(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read callback URL: %w", err)
	}

	code, err := authorizer.ParseCallback(callback)
	if err != nil {
		return err
	}
	logging.Info().Str("code", truncate(code, 10)+"...").Msg("authorization_code_received")

	tok, err := authorizer.Exchange(cmd.Context(), code)
	if err != nil {
		return err
	}

	printSummary(out, tok)

	if err := fitbit.WriteToken(tok, cfg.TokenFile); err != nil {
		return err
	}
	logging.Info().Str("path", cfg.TokenFile).Msg("tokens_saved")
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printSummary(w io.Writer, tok *fitbit.Token) {
	expires := "unknown"
	if tok.ExpiresAt != nil {
		expires = tok.ExpiresAt.Local().Format(time.RFC3339)
	}
	refresh := "no"
	if tok.RefreshToken != "" {
		refresh = "yes"
	}

	fmt.Fprintf(w, "\n%s\nSUCCESS! Token obtained\n%s\n", strings.Repeat("=", 80), strings.Repeat("=", 80))
	fmt.Fprintf(w, "Access token:  %s...\n", truncate(tok.AccessToken, 20))
	fmt.Fprintf(w, "Token type:    %s\n", tok.TokenType)
	fmt.Fprintf(w, "Expires at:    %s\n", expires)
	fmt.Fprintf(w, "Scope:         %s\n", strings.Join(tok.Scope, " "))
	fmt.Fprintf(w, "Refresh token: %s\n\n", refresh)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
