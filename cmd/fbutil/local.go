package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Krajiyah/firebase-admin-util/internal/auth"
	"github.com/Krajiyah/firebase-admin-util/internal/client"
	"github.com/Krajiyah/firebase-admin-util/internal/config"
	"github.com/Krajiyah/firebase-admin-util/internal/events"
	"github.com/Krajiyah/firebase-admin-util/internal/model"
	"github.com/Krajiyah/firebase-admin-util/internal/schema"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
	"github.com/Krajiyah/firebase-admin-util/internal/store/memory"
	"github.com/Krajiyah/firebase-admin-util/internal/store/postgres"
	fbsync "github.com/Krajiyah/firebase-admin-util/internal/sync"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// backend is an opened datastore with the collaborators built on it.
type backend struct {
	ds        store.Datastore
	accounts  auth.Backend
	reg       model.Registry
	publisher events.Publisher
	closers   []io.Closer
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i].Close()
	}
}

// openBackend connects the datastore cfg names (Postgres, or memory when
// no database is set), wires NATS change notices when configured and
// compiles the schema into a registry.
func openBackend(cfg *config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.Schema == "" {
		return nil, fmt.Errorf("FBUTIL_SCHEMA is not set")
	}
	s, err := schema.LoadFile(cfg.Schema)
	if err != nil {
		return nil, err
	}

	b := &backend{publisher: &events.NoopPublisher{}}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		b.publisher = pub
		b.closers = append(b.closers, pub)
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	}

	if cfg.Memory() {
		ds := memory.New(memory.WithLogger(logger))
		b.ds, b.accounts = ds, auth.NewMemoryBackend()
		b.closers = append(b.closers, ds)
		logger.Info("using in-memory datastore (FBUTIL_DATABASE_URL not set)")
	} else {
		opts := []postgres.Option{postgres.WithLogger(logger), postgres.WithPublisher(b.publisher)}
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.closers = append(b.closers, sub)
			opts = append(opts, postgres.WithSubscriber(sub))
		}
		pg, err := postgres.New(cfg.DatabaseURL, opts...)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.ds, b.accounts = pg, pg
		b.closers = append(b.closers, pg)
	}

	regOpts := []model.Option{model.WithLogger(logger)}
	if cfg.Validate {
		regOpts = append(regOpts, model.WithValidation())
	}
	if b.reg, err = model.NewRegistry(b.ds, s, regOpts...); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write every record as JSON Lines (stdout when no file)",
	Long: `Export every record of every entity in the configured datastore as
JSON Lines. Reads FBUTIL_DATABASE_URL and FBUTIL_SCHEMA directly; no server
is needed.`,
	GroupID: "ops",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		b, err := openBackend(cfg, newLogger())
		if err != nil {
			return err
		}
		defer b.Close()

		if len(args) == 0 {
			return fbsync.ExportJSONL(context.Background(), b.reg, os.Stdout)
		}
		var buf bytes.Buffer
		if err := fbsync.ExportJSONL(context.Background(), b.reg, &buf); err != nil {
			return err
		}
		return fbsync.NewFileDestination(args[0]).Write(context.Background(), buf.Bytes())
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load JSON Lines records (stdin when no file)",
	Long: `Import JSON Lines produced by export into the configured datastore.
Existing records with the same keys are replaced.`,
	GroupID: "ops",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		b, err := openBackend(cfg, newLogger())
		if err != nil {
			return err
		}
		defer b.Close()

		in := io.Reader(os.Stdin)
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		n, err := fbsync.ImportJSONL(context.Background(), b.reg, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Imported %d records\n", n)
		return nil
	},
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Compile a JSON or TOML schema file and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := schema.LoadFile(args[0])
		if err != nil {
			return err
		}
		out := map[string]client.SchemaEntity{}
		for _, e := range s.Entities() {
			fields := map[string]string{}
			for _, f := range e.Fields {
				fields[f.Name] = f.Type
			}
			out[e.Name] = client.SchemaEntity{Path: e.Path, Fields: fields}
		}
		if jsonOutput {
			return printJSON(out)
		}
		printSchema(out)
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(local(schemaCheckCmd))
}
