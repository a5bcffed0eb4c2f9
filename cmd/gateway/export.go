package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"inference_gateway/internal/logging"
	"inference_gateway/internal/storage"
	"inference_gateway/internal/utils"
)

const exportBatchSize = 1000

var (
	exportSince string
	exportUntil string
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export-usage",
		Short: "Archive usage records to S3 as JSON Lines",
		Long: "Archive usage records created in [since, until) to S3. Dates are RFC 3339 timestamps or " +
			"YYYY-MM-DD days in UTC. Defaults to the previous UTC day.",
		RunE: func(cmd *cobra.Command, args []string) error {
			since, until, err := exportWindow(exportSince, exportUntil, time.Now())
			if err != nil {
				return err
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			writer, err := logging.NewS3Writer(cmd.Context(), cfg.Export.S3Bucket, cfg.Export.S3Region, cfg.Export.S3Prefix, cfg.Export.PodName)
			if err != nil {
				return err
			}

			objects, total, err := exportUsage(cmd.Context(), storage.NewUsageRepository(db), writer, since, until)
			if err != nil {
				return err
			}
			for _, key := range objects {
				fmt.Fprintf(cmd.OutOrStdout(), "s3://%s/%s\n", cfg.Export.S3Bucket, key)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records\n", total)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&exportSince, "since", "", "Start of the window (inclusive)")
	exportCmd.Flags().StringVar(&exportUntil, "until", "", "End of the window (exclusive)")
	rootCmd.AddCommand(exportCmd)
}

type usageSource interface {
	ListWithKeys(ctx context.Context, since, until time.Time) ([]storage.UsageWithKey, error)
}

type batchWriter interface {
	WriteBatch(ctx context.Context, records []logging.UsageExport) (string, error)
}

// exportUsage writes the window in batches and returns the object keys written.
func exportUsage(ctx context.Context, src usageSource, w batchWriter, since, until time.Time) ([]string, int, error) {
	log := utils.NewLogger("export")

	rows, err := src.ListWithKeys(ctx, since, until)
	if err != nil {
		return nil, 0, err
	}

	var objects []string
	for start := 0; start < len(rows); start += exportBatchSize {
		end := min(start+exportBatchSize, len(rows))
		batch := make([]logging.UsageExport, 0, end-start)
		for _, row := range rows[start:end] {
			batch = append(batch, logging.UsageExport{
				UsageRecord: row.UsageRecord,
				APIKeyName:  row.APIKeyName,
				UserID:      row.UserID,
			})
		}

		key, err := w.WriteBatch(ctx, batch)
		if err != nil {
			return objects, start, fmt.Errorf("exporting records %d-%d: %w", start, end, err)
		}
		log.Info("Exported usage batch", "object", key, "records", len(batch))
		objects = append(objects, key)
	}
	return objects, len(rows), nil
}

// exportWindow resolves the --since/--until flags. Empty flags select the
// UTC day before now.
func exportWindow(sinceFlag, untilFlag string, now time.Time) (time.Time, time.Time, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	since, until := today.Add(-24*time.Hour), today

	var err error
	if sinceFlag != "" {
		if since, err = parseExportTime(sinceFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if untilFlag != "" {
		if until, err = parseExportTime(untilFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if !since.Before(until) {
		return time.Time{}, time.Time{}, fmt.Errorf("--since must be before --until")
	}
	return since, until, nil
}

func parseExportTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}
