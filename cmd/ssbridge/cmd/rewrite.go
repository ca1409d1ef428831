package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/ssbridge/internal/fragment"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Rewrite a Smooth Streaming fragment file",
	Long: `Rewrite a single moof+mdat fragment so fragmented MP4 demuxers accept it.

The base media decode time is written into a tfdt box. With --encrypted the
PIFF sample encryption data is moved into senc, saiz and saio boxes. Input that
is not a recognizable fragment is copied unchanged.`,
	RunE: runRewrite,
}

func init() {
	rewriteCmd.Flags().String("in", "", "input fragment file")
	rewriteCmd.Flags().String("out", "", "output file")
	rewriteCmd.Flags().Uint64("timestamp", 0, "base media decode time in track timescale units")
	rewriteCmd.Flags().Bool("encrypted", false, "fragment carries sample encryption")
	_ = rewriteCmd.MarkFlagRequired("in")
	_ = rewriteCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(rewriteCmd)
}

func runRewrite(cmd *cobra.Command, _ []string) error {
	in, _ := cmd.Flags().GetString("in")
	out, _ := cmd.Flags().GetString("out")
	timestamp, _ := cmd.Flags().GetUint64("timestamp")
	encrypted, _ := cmd.Flags().GetBool("encrypted")

	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading fragment: %w", err)
	}

	result, rewritten := fragment.Rewrite(data, fragment.Meta{BaseTimestamp: timestamp, Encrypted: encrypted})
	if err := os.WriteFile(out, result, 0o644); err != nil {
		return fmt.Errorf("writing fragment: %w", err)
	}

	level := slog.LevelInfo
	if !rewritten {
		level = slog.LevelWarn
	}
	logger.Log(cmd.Context(), level, "fragment processed",
		slog.String("in", in),
		slog.String("out", out),
		slog.Bool("rewritten", rewritten),
		slog.Int("bytes_in", len(data)),
		slog.Int("bytes_out", len(result)),
	)
	return nil
}
