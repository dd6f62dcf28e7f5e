package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Auth broker CLI",
	Long:  "A CLI for inspecting and managing sessions, tokens and two-factor settings on the auth broker.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(twoFactorCmd())
}

// withClient runs fn on an authenticated connection and reports errors
// the way every command does.
func withClient(fn func(c *Client) error) error {
	c, err := newClient()
	if err != nil {
		printError(err.Error())
		return nil
	}
	defer c.Close()
	if err := fn(c); err != nil {
		printError(err.Error())
	}
	return nil
}

// --- login ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Verify credentials and remember them for later commands",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("address")
			apiKey, _ := cmd.Flags().GetString("api-key")
			if addr != "" {
				cfg.Address = addr
			}
			cfg.APIKey = apiKey
			cfg.Username = ""
			if len(args) > 0 {
				cfg.Username = args[0]
			}
			if cfg.APIKey == "" && cfg.Username == "" {
				printError("a username or --api-key is required")
				return nil
			}
			return withClient(func(c *Client) error {
				if err := saveConfig(); err != nil {
					return err
				}
				printSuccess("Success! Login details saved.")
				return nil
			})
		},
	}
	cmd.Flags().String("address", "", "Broker address (unix:///path or host:port)")
	cmd.Flags().String("api-key", "", "Authenticate with an API key instead of a password")
	return cmd
}

// --- whoami ---

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the credential of the current connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *Client) error {
				var sessions []session
				if err := c.callInto(&sessions, "auth.sessions", map[string]any{"current": true}); err != nil {
					return err
				}
				if len(sessions) == 0 {
					printSuccess("not authenticated")
					return nil
				}
				s := sessions[0]
				printResult(map[string]any{
					"session":     s.ID,
					"credentials": s.Credentials,
					"user":        userOf(s.CredentialsData),
					"origin":      s.Origin,
				})
				return nil
			})
		},
	}
}

// --- sessions ---

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect and terminate sessions"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			credentials, _ := cmd.Flags().GetString("credentials")
			query := map[string]any{}
			if !all {
				query["internal"] = false
			}
			if credentials != "" {
				query["credentials"] = credentials
			}
			return withClient(func(c *Client) error {
				var sessions []session
				if err := c.callInto(&sessions, "auth.sessions", query); err != nil {
					return err
				}
				printSessions(sessions)
				return nil
			})
		},
	}
	listCmd.Flags().Bool("all", false, "Include internal sessions")
	listCmd.Flags().String("credentials", "", "Only show sessions with this credential type (e.g. LOGIN_PASSWORD)")

	terminateCmd := &cobra.Command{
		Use:   "terminate <id>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *Client) error {
				var ok bool
				if err := c.callInto(&ok, "auth.terminate_session", args[0]); err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("session %s not found", args[0])
				}
				printSuccess("Success! Session terminated.")
				return nil
			})
		},
	}

	terminateOthersCmd := &cobra.Command{
		Use:   "terminate-others",
		Short: "Terminate every other non-internal session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *Client) error {
				if _, err := c.call("auth.terminate_other_sessions"); err != nil {
					return err
				}
				printSuccess("Success! Other sessions terminated.")
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, terminateCmd, terminateOthersCmd)
	return cmd
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Token management"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token derived from the current credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			matchOrigin, _ := cmd.Flags().GetBool("match-origin")
			var ttlParam any
			if ttl > 0 {
				ttlParam = int(ttl / time.Second)
			}
			return withClient(func(c *Client) error {
				var token string
				if err := c.callInto(&token, "auth.generate_token", ttlParam, map[string]any{}, matchOrigin); err != nil {
					return err
				}
				printResult(map[string]any{"token": token})
				return nil
			})
		},
	}
	createCmd.Flags().Duration("ttl", 0, "Idle timeout (default: server default)")
	createCmd.Flags().Bool("match-origin", false, "Only allow the token to be used from this origin")

	cmd.AddCommand(createCmd)
	return cmd
}

// --- two-factor ---

func twoFactorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "twofactor", Short: "Two-factor authentication settings"}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the two-factor configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *Client) error {
				var config map[string]any
				if err := c.callInto(&config, "auth.twofactor.config"); err != nil {
					return err
				}
				delete(config, "secret")
				printResult(config)
				return nil
			})
		},
	}

	renewCmd := &cobra.Command{
		Use:   "renew",
		Short: "Generate a new secret (devices must be provisioned again)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *Client) error {
				if _, err := c.call("auth.twofactor.renew_secret"); err != nil {
					return err
				}
				printSuccess("Success! Two-factor secret renewed.")
				return nil
			})
		},
	}

	uriCmd := &cobra.Command{
		Use:   "uri",
		Short: "Print the provisioning URI for authenticator apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *Client) error {
				var uri string
				if err := c.callInto(&uri, "auth.twofactor.provisioning_uri"); err != nil {
					return err
				}
				fmt.Println(uri)
				return nil
			})
		},
	}

	cmd.AddCommand(statusCmd, renewCmd, uriCmd)
	return cmd
}
