package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Krajiyah/firebase-admin-util/internal/client"
	"github.com/Krajiyah/firebase-admin-util/internal/ui"
)

func printStreamEvent(e client.StreamEvent) {
	if jsonOutput {
		data, err := json.Marshal(e)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%-8s %s/%s %s\n", ui.RenderEvent(e.Event), e.Entity, ui.RenderAccent(e.Key), formatValue(e.Value))
}

var watchCmd = &cobra.Command{
	Use:   "watch <entity>",
	Short: "Stream records as they are added, changed or removed",
	Long: `Stream the records of an entity. Existing records arrive first as
added events. --field/--value restrict the stream to loosely matching
records. Stops on Ctrl-C.`,
	GroupID: "streams",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		field, _ := cmd.Flags().GetString("field")
		var value any
		if cmd.Flags().Changed("value") {
			raw, _ := cmd.Flags().GetString("value")
			value = parseValue(raw)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := c.Watch(ctx, args[0], field, value, printStreamEvent); err != nil {
			return fmt.Errorf("watching %s: %w", args[0], err)
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events [topic...]",
	Short: "Stream the server-wide event feed",
	Long: `Stream every record event the server sees. Topics are
"<Entity>.<event>" and accept * and > wildcards, e.g. "User.*" or
"*.removed".`,
	GroupID: "streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := c.Events(ctx, args, printStreamEvent); err != nil {
			return fmt.Errorf("streaming events: %w", err)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().String("field", "", "field to filter on")
	watchCmd.Flags().String("value", "", "value the field must loosely equal")
}
