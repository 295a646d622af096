package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Krajiyah/firebase-admin-util/internal/client"
	"github.com/Krajiyah/firebase-admin-util/internal/config"
	"github.com/Krajiyah/firebase-admin-util/internal/storage"
	"github.com/Krajiyah/firebase-admin-util/internal/ui"
)

var integrityCmd = &cobra.Command{
	Use:     "integrity",
	Short:   "Check every record against the schema",
	GroupID: "ops",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		noLinks, _ := cmd.Flags().GetBool("no-links")
		raw, err := c.Integrity(context.Background(), !noLinks)
		if err != nil {
			return fmt.Errorf("checking integrity: %w", err)
		}
		if jsonOutput {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			return printJSON(v)
		}

		var report struct {
			Integrity string                    `json:"integrity"`
			Score     float64                   `json:"score"`
			Totals    map[string]map[string]int `json:"totals"`
		}
		if err := json.Unmarshal(raw, &report); err != nil {
			return fmt.Errorf("decoding report: %w", err)
		}
		fmt.Printf("%s %s (%.1f%%)\n", ui.RenderMuted("integrity:"), ui.RenderAccent(report.Integrity), report.Score*100)
		for _, group := range []string{"good", "bad", "neutral"} {
			counts := report.Totals[group]
			names := make([]string, 0, len(counts))
			for k := range counts {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Printf("  %-8s %-16s %d\n", group, k, counts[k])
			}
		}
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <device|topic> <target>",
	Short: "Send a push notification",
	Long: `Send a notification to one device token or to a topic. --silent sends
a data-only message.`,
	GroupID: "ops",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		req := &client.PushRequest{Kind: args[0], Target: args[1]}
		req.Title, _ = cmd.Flags().GetString("title")
		req.Body, _ = cmd.Flags().GetString("body")
		req.Silent, _ = cmd.Flags().GetBool("silent")
		data, _ := cmd.Flags().GetStringArray("data")
		if len(data) > 0 {
			if req.Data, err = parseFields("", data); err != nil {
				return err
			}
		}

		msg, err := c.Push(context.Background(), req)
		if err != nil {
			return fmt.Errorf("sending push: %w", err)
		}
		if jsonOutput {
			return printJSON(msg)
		}
		fmt.Printf("Sent to %s %s\n", args[0], args[1])
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file> [key]",
	Short: "Upload a file to the configured bucket and print its public link",
	Long: `Upload a local file to FBUTIL_S3_BUCKET. The object key defaults to
the file name.`,
	GroupID: "ops",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.S3Bucket == "" {
			return fmt.Errorf("FBUTIL_S3_BUCKET is not set")
		}
		ctx := context.Background()
		bucket, err := storage.New(ctx, storage.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PublicURL: cfg.S3PublicURL,
		}, newLogger())
		if err != nil {
			return err
		}

		var link string
		if len(args) == 2 {
			link, err = bucket.UploadAs(ctx, args[0], args[1])
		} else {
			link, err = bucket.Upload(ctx, args[0])
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"link": link})
		}
		fmt.Println(link)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := fbClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health: %s\n", status)
		}
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:     "schema",
	Short:   "Show the server's schema",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		s, err := c.Schema(context.Background())
		if err != nil {
			return fmt.Errorf("fetching schema: %w", err)
		}
		if jsonOutput {
			return printJSON(s)
		}
		printSchema(s)
		return nil
	},
}

func printSchema(s map[string]client.SchemaEntity) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := s[name]
		fmt.Printf("%s %s\n", ui.RenderAccent(name), ui.RenderMuted(e.Path))
		for _, f := range sortedKeys(e.Fields) {
			fmt.Printf("  %-16s %s\n", f, e.Fields[f])
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	integrityCmd.Flags().Bool("no-links", false, "skip HTTP probes of link fields")

	pushCmd.Flags().String("title", "", "notification title")
	pushCmd.Flags().String("body", "", "notification body")
	pushCmd.Flags().Bool("silent", false, "send a data-only message")
	pushCmd.Flags().StringArray("data", nil, "data entry as name=value (repeatable)")

}
