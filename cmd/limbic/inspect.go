package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/nidhogg/limbic-flow/internal/affect"
	"github.com/nidhogg/limbic-flow/internal/affectlog"
	"github.com/nidhogg/limbic-flow/internal/embedding"
	"github.com/nidhogg/limbic-flow/internal/memory"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		since  time.Duration
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print logged affect snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger("warn", true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			log, err := affectlog.Open(ctx, cfg.AffectLogConfig(), logger)
			if err != nil {
				return err
			}
			defer log.Close()

			q := affectlog.Query{Limit: limit}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			snaps, err := log.History(ctx, q)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snaps)
			}
			return printHistory(cmd.OutOrStdout(), snaps)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only snapshots newer than this (e.g. 24h)")
	cmd.Flags().IntVarP(&limit, "limit", "n", affectlog.DefaultHistoryLimit, "maximum number of snapshots")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printHistory(w io.Writer, snaps []affect.Snapshot) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "no affect snapshots logged")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tP\tA\tD\tDA\tCORT\tMOOD\tTRIGGER")
	for _, s := range snaps {
		trigger, _ := s.Context["source"].(string)
		if trigger == "" {
			trigger, _ = s.Context["input"].(string)
		}
		fmt.Fprintf(tw, "%s\t%+.2f\t%+.2f\t%+.2f\t%.2f\t%.2f\t%s\t%s\n",
			s.Timestamp.Local().Format(time.DateTime),
			s.Affect.Pleasure, s.Affect.Arousal, s.Affect.Dominance,
			s.Neuro.Dopamine, s.Neuro.Cortisol,
			affect.Describe(s), trigger)
	}
	return tw.Flush()
}

func newMemoriesCmd() *cobra.Command {
	var (
		query  string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "List stored memories, or search them with --query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger("warn", true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			store := memory.NewStore(cfg.Memory.Path, logger)
			if err := store.Load(ctx); err != nil {
				return err
			}

			var recs []memory.Record
			if query != "" {
				embedder, err := embedding.New(cfg.EmbeddingConfig(), logger)
				if err != nil {
					return err
				}
				vec, err := embedding.EmbedOne(ctx, embedder, query)
				if err != nil {
					return fmt.Errorf("embed query: %w", err)
				}
				recs = memory.Records(store.Retrieve(ctx, vec, limit))
			} else {
				recs = store.All()
				slices.Reverse(recs)
				if len(recs) > limit {
					recs = recs[:limit]
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			return printMemories(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of memories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printMemories(w io.Writer, recs []memory.Record) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no memories")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tP\tNARRATIVE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%+.2f\t%s\n",
			r.ID, r.Timestamp.Local().Format(time.DateTime), r.Affect.Pleasure, r.Narrative)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
