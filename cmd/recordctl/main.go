// Package main provides recordctl, the operator CLI of the record service.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/puzzle-records/internal/bootstrap"
	"github.com/puzzle-records/internal/config"
	"github.com/puzzle-records/internal/domain"
	"github.com/puzzle-records/internal/kafka"
)

// maxLineBytes bounds one NDJSON submission
const maxLineBytes = 4 << 20

var (
	configPath   string
	rankingLimit int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "recordctl",
		Short:         "Operate the puzzle record service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (default: environment only)")

	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newRenameCmd())
	rootCmd.AddCommand(newRankingCmd())
	rootCmd.AddCommand(newPublishCmd())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.FromEnv()
	}
	return config.Load(configPath)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// withApp connects the stores, runs fn and releases them
func withApp(cmd *cobra.Command, fn func(context.Context, *bootstrap.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := cmd.Context()
	app, err := bootstrap.New(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [game level]",
		Short: "Rebuild ranked boards from the ledger",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or a game and a level")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if len(args) == 2 {
					n, err := app.Service.Reconcile(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %d entries\n", args[0], args[1], n)
					return nil
				}
				n, err := app.Service.ReconcileAll(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d boards\n", n)
				return err
			})
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <user-uuid> <nickname>",
		Short: "Change a player's nickname in the ledger and the ranked cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				rows, err := app.Service.UpdateNickname(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "renamed %d records\n", rows)
				return nil
			})
		},
	}
}

func newRankingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranking <game> <level>",
		Short: "Print the top of a board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				entries, err := app.Service.Ranking(ctx, args[0], args[1], rankingLimit)
				if err != nil {
					return err
				}
				return printRanking(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().IntVar(&rankingLimit, "limit", 10, "number of entries")
	return cmd
}

func printRanking(w io.Writer, entries []domain.RankEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tNICKNAME\tCLEAR\tSCORE\tMISTAKES\tHINTS\tUSER")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%s\n",
			e.Rank, e.Nickname, e.ClearTime, e.Score, e.MistakeCount, e.HintCount, e.UserID)
	}
	return tw.Flush()
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish [file]",
		Short: "Publish NDJSON submissions to the Kafka topic (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open submissions: %w", err)
				}
				defer f.Close()
				in = f
			}

			producer, err := kafka.NewProducer(&cfg.Kafka)
			if err != nil {
				return err
			}
			defer producer.Close()

			n, err := publishAll(in, producer)
			fmt.Fprintf(cmd.OutOrStdout(), "published %d submissions to %s\n", n, cfg.Kafka.Topic)
			return err
		},
	}
}

type publisher interface {
	Publish(sub domain.Submission) (int32, int64, error)
}

// publishAll sends one submission per non-blank line and stops at the first
// line that fails to decode or send.
func publishAll(r io.Reader, p publisher) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	sent := 0
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var sub domain.Submission
		if err := json.Unmarshal([]byte(text), &sub); err != nil {
			return sent, fmt.Errorf("line %d: %w", line, err)
		}
		if _, _, err := p.Publish(sub); err != nil {
			return sent, fmt.Errorf("line %d: %w", line, err)
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		return sent, fmt.Errorf("reading submissions: %w", err)
	}
	return sent, nil
}
