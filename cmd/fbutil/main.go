package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Krajiyah/firebase-admin-util/internal/client"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	token      string
	jsonOutput bool

	fbClient client.Client
)

func envOr(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// local marks commands that work on the datastore directly and need no
// server connection.
func local(cmd *cobra.Command) *cobra.Command {
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
	return cmd
}

var rootCmd = &cobra.Command{
	Use:           "fbutil <command>",
	Short:         "Schema-driven records over a hierarchical datastore",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch transport {
		case "http":
			fbClient = client.NewHTTPClient(httpURL, token)
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr, token)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			fbClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if fbClient != nil {
			fbClient.Close()
		}
	},
}

// httpClient returns the HTTP client for commands the gRPC service does not
// cover.
func httpClient() (*client.HTTPClient, error) {
	c, ok := fbClient.(*client.HTTPClient)
	if !ok {
		return nil, fmt.Errorf("this command needs --transport http")
	}
	return c, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOr("FBUTIL_HTTP_URL", "http://localhost:8080"), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("FBUTIL_SERVER", "localhost:9090"), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("FBUTIL_TOKEN"), "bearer token (static or session)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "streams", Title: "Streams:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Records
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(incrCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(refsCmd)

	// Streams
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(eventsCmd)

	// Operations
	rootCmd.AddCommand(integrityCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(local(uploadCmd))
	rootCmd.AddCommand(local(exportCmd))
	rootCmd.AddCommand(local(importCmd))

	// System
	rootCmd.AddCommand(local(serveCmd))
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
