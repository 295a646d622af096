package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Krajiyah/firebase-admin-util/internal/client"
)

var getCmd = &cobra.Command{
	Use:     "get <entity> <key>",
	Short:   "Show one record",
	GroupID: "records",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := fbClient.Get(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("getting %s/%s: %w", args[0], args[1], err)
		}
		return printDoc(doc)
	},
}

var listCmd = &cobra.Command{
	Use:   "list <entity>",
	Short: "List records, optionally filtered by one field",
	Long: `List records of an entity.

  fbutil list User                          every record
  fbutil list User --keys u1,u2             records with the given keys
  fbutil list User --field age --value 30   records whose age loosely equals 30
  fbutil list User --field name --prefix An
  fbutil list User --field age --lo 18 --hi 65`,
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := &client.Query{}
		q.Keys, _ = cmd.Flags().GetStringSlice("keys")
		q.Field, _ = cmd.Flags().GetString("field")
		q.Prefix, _ = cmd.Flags().GetString("prefix")
		for name, dst := range map[string]*any{"value": &q.Value, "lo": &q.Lo, "hi": &q.Hi} {
			if cmd.Flags().Changed(name) {
				raw, _ := cmd.Flags().GetString(name)
				*dst = parseValue(raw)
			}
		}
		if q.Field == "" && (q.Value != nil || q.Prefix != "" || q.Lo != nil || q.Hi != nil) {
			return fmt.Errorf("--value, --prefix, --lo and --hi need --field")
		}

		docs, err := fbClient.List(context.Background(), args[0], q)
		if err != nil {
			return fmt.Errorf("listing %s: %w", args[0], err)
		}
		return printDocs(docs)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <entity> [name=value...]",
	Short: "Create a record",
	Long: `Create a record from name=value pairs and/or --data JSON. Values are
parsed as JSON when possible. Without --key the key is generated.`,
	GroupID: "records",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		key, _ := cmd.Flags().GetString("key")
		fields, err := parseFields(data, args[1:])
		if err != nil {
			return err
		}
		doc, err := fbClient.Create(context.Background(), args[0], key, fields)
		if err != nil {
			return fmt.Errorf("creating %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(doc)
		}
		fmt.Printf("Created %s/%s\n", args[0], doc.Key)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:     "update <entity> <key> [name=value...]",
	Short:   "Merge fields into a record (name= deletes a field)",
	GroupID: "records",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		data, _ := cmd.Flags().GetString("data")
		fields, err := parseFields(data, args[2:])
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return fmt.Errorf("nothing to update")
		}
		doc, err := c.Update(context.Background(), args[0], args[1], fields)
		if err != nil {
			return fmt.Errorf("updating %s/%s: %w", args[0], args[1], err)
		}
		return printDoc(doc)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <entity> <key>...",
	Short:   "Delete one or more records",
	GroupID: "records",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, key := range args[1:] {
			if _, err := fbClient.Delete(context.Background(), args[0], key); err != nil {
				return fmt.Errorf("deleting %s/%s: %w", args[0], key, err)
			}
			fmt.Printf("Deleted %s/%s\n", args[0], key)
		}
		return nil
	},
}

var incrCmd = &cobra.Command{
	Use:     "incr <entity> <key> <field> [delta]",
	Short:   "Atomically add to a number field (default delta 1)",
	GroupID: "records",
	Args:    cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		delta := 1.0
		if len(args) == 4 {
			if delta, err = strconv.ParseFloat(args[3], 64); err != nil {
				return fmt.Errorf("delta %q is not a number", args[3])
			}
		}
		doc, err := c.Increment(context.Background(), args[0], args[1], args[2], delta)
		if err != nil {
			return fmt.Errorf("incrementing %s/%s.%s: %w", args[0], args[1], args[2], err)
		}
		return printDoc(doc)
	},
}

var appendCmd = &cobra.Command{
	Use:     "append <entity> <key> <field> <value>",
	Short:   "Atomically add a value to a list field",
	GroupID: "records",
	Args:    cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		doc, err := c.Append(context.Background(), args[0], args[1], args[2], parseValue(args[3]))
		if err != nil {
			return fmt.Errorf("appending to %s/%s.%s: %w", args[0], args[1], args[2], err)
		}
		return printDoc(doc)
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <entity> <key> <field> <value>",
	Short:   "Atomically remove a value from a list field",
	GroupID: "records",
	Args:    cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		doc, err := c.Remove(context.Background(), args[0], args[1], args[2], parseValue(args[3]))
		if err != nil {
			return fmt.Errorf("removing from %s/%s.%s: %w", args[0], args[1], args[2], err)
		}
		return printDoc(doc)
	},
}

var refsCmd = &cobra.Command{
	Use:     "refs <entity> <key> <field>",
	Short:   "Show the records a reference field points at",
	GroupID: "records",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		resp, err := c.Refs(context.Background(), args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("resolving %s/%s.%s: %w", args[0], args[1], args[2], err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		if err := printDocs(resp.Records); err != nil {
			return err
		}
		if len(resp.Missing) > 0 {
			fmt.Printf("missing: %s\n", strings.Join(resp.Missing, ", "))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringSlice("keys", nil, "only these keys")
	listCmd.Flags().String("field", "", "field to filter on")
	listCmd.Flags().String("value", "", "value the field must loosely equal")
	listCmd.Flags().String("prefix", "", "prefix the string field must start with")
	listCmd.Flags().String("lo", "", "lower bound (inclusive)")
	listCmd.Flags().String("hi", "", "upper bound (inclusive)")

	createCmd.Flags().String("key", "", "record key (generated when empty)")
	createCmd.Flags().String("data", "", "fields as a JSON object")
	updateCmd.Flags().String("data", "", "fields as a JSON object")
}
