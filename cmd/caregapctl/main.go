// Package main provides caregapctl, the care gap operations CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-caregap/internal/config"
	"github.com/drfirst/go-caregap/internal/domain/caregap"
	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
	"github.com/drfirst/go-caregap/internal/infrastructure/postgres"
	"github.com/drfirst/go-caregap/internal/infrastructure/redpanda"
	"github.com/drfirst/go-caregap/internal/observability/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "caregapctl",
		Short:        "Care gap evaluation tools",
		SilenceUsage: true,
	}

	root.AddCommand(evaluateCmd())
	root.AddCommand(importCmd())
	root.AddCommand(topicsCmd())
	return root
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a FHIR Bundle file and print the care gaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("bundle")
			patientID, _ := cmd.Flags().GetString("patient")
			asOf, _ := cmd.Flags().GetString("as-of")
			dueOnly, _ := cmd.Flags().GetBool("due-only")
			summary, _ := cmd.Flags().GetBool("summary")

			bundle, err := readBundle(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}
			hc, err := caregap.ContextFromBundle(bundle, patientID)
			if err != nil {
				return err
			}

			var opts []caregap.Option
			if asOf != "" {
				date, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				opts = append(opts, caregap.AsOf(date))
			}

			gaps := caregap.NewEvaluator(opts...).EvaluateAll(hc)

			var out interface{} = gaps
			switch {
			case summary:
				out = caregap.Summarize(hc.Patient.ID, gaps)
			case dueOnly:
				out = caregap.Due(gaps)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().String("bundle", "-", "Path to a FHIR Bundle JSON file, - for stdin")
	cmd.Flags().String("patient", "", "Patient id when the bundle holds several patients")
	cmd.Flags().String("as-of", "", "Evaluation date (YYYY-MM-DD), defaults to today")
	cmd.Flags().Bool("due-only", false, "Print only due gaps")
	cmd.Flags().Bool("summary", false, "Print counts instead of gaps")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a FHIR Bundle into the Postgres record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("bundle")
			patientID, _ := cmd.Flags().GetString("patient")
			notify, _ := cmd.Flags().GetBool("notify")

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			bundle, err := readBundle(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}
			if patientID == "" {
				hc, err := caregap.ContextFromBundle(bundle, "")
				if err != nil {
					return err
				}
				patientID = hc.Patient.ID
			}
			if patientID == "" {
				return fmt.Errorf("bundle patient has no id; pass --patient")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			store := postgres.NewRecordStore(pool, logger)
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			n, err := store.SaveBundle(ctx, patientID, bundle)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d resources for patient %s\n", n, patientID)

			counts, err := store.CountResources(ctx, patientID)
			if err != nil {
				return err
			}
			writeCounts(cmd.OutOrStdout(), counts)

			if !notify {
				return nil
			}
			producer, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.KafkaBrokers()), logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			evt := redpanda.RecordsUpdated{PatientID: patientID, UpdatedAt: time.Now().UTC()}
			return producer.PublishEvent(ctx, redpanda.TopicRecordsUpdated, patientID, redpanda.EventRecordsUpdated, evt)
		},
	}

	cmd.Flags().String("bundle", "-", "Path to a FHIR Bundle JSON file, - for stdin")
	cmd.Flags().String("patient", "", "Patient id to store the resources under, defaults to the bundle's patient")
	cmd.Flags().Bool("notify", false, "Publish records.updated so the worker re-evaluates the patient")
	return cmd
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage Redpanda topics",
	}

	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create missing topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			replication, _ := cmd.Flags().GetInt16("replication")

			admin, logger, err := newAdmin()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer admin.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			created, err := admin.EnsureTopics(ctx, replication)
			if err != nil {
				return err
			}
			for _, t := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", t)
			}
			if len(created) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "all topics exist")
			}
			return nil
		},
	}
	ensureCmd.Flags().Int16("replication", 1, "Replication factor for new topics")
	cmd.AddCommand(ensureCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, logger, err := newAdmin()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer admin.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			topics, err := admin.ListTopics(ctx)
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lag <group>",
		Short: "Show consumer group lag per topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, logger, err := newAdmin()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer admin.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			lag, err := admin.GroupLag(ctx, args[0])
			if err != nil {
				return err
			}
			writeLag(cmd.OutOrStdout(), args[0], lag)
			return nil
		},
	})
	return cmd
}

// writeCounts prints stored resources per type in a stable order
func writeCounts(w io.Writer, counts map[string]int) {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-18s %d\n", t, counts[t])
	}
}

func writeLag(w io.Writer, group string, lag map[string]int64) {
	if len(lag) == 0 {
		fmt.Fprintf(w, "group %s has no committed offsets\n", group)
		return
	}
	topics := make([]string, 0, len(lag))
	for t := range lag {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, t := range topics {
		fmt.Fprintf(w, "%s\t%d\n", t, lag[t])
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newAdmin() (*redpanda.Admin, *zap.Logger, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers(), logger)
	if err != nil {
		return nil, nil, err
	}
	return admin, logger, nil
}

func readBundle(stdin io.Reader, path string) (*fhir.Bundle, error) {
	r := stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var bundle fhir.Bundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if bundle.ResourceType != fhir.ResourceBundle {
		return nil, fmt.Errorf("expected a Bundle, got %q", bundle.ResourceType)
	}
	return &bundle, nil
}
