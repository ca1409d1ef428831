package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abema/go-mp4"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the box structure of an MP4 file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening file: %w", err)
		}
		defer f.Close()
		return dumpBoxes(cmd.OutOrStdout(), f)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// dumpBoxes writes one line per box with its offset, size and, for box types
// go-mp4 can decode, the decoded payload. mdat payloads are never decoded.
func dumpBoxes(w io.Writer, r io.ReadSeeker) error {
	_, err := mp4.ReadBoxStructure(r, func(h *mp4.ReadHandle) (any, error) {
		indent := strings.Repeat("  ", len(h.Path)-1)
		fmt.Fprintf(w, "%s[%s] offset=%d size=%d", indent, h.BoxInfo.Type, h.BoxInfo.Offset, h.BoxInfo.Size)

		if !h.BoxInfo.IsSupportedType() || h.BoxInfo.Type == mp4.BoxTypeMdat() {
			fmt.Fprintln(w)
			return nil, nil
		}

		box, _, err := h.ReadPayload()
		if err != nil {
			fmt.Fprintln(w, " (unreadable)")
			return nil, nil
		}
		str, err := mp4.Stringify(box, h.BoxInfo.Context)
		if err != nil {
			return nil, err
		}
		if str != "" {
			fmt.Fprintf(w, " %s", str)
		}
		fmt.Fprintln(w)

		return h.Expand()
	})
	if err != nil {
		return fmt.Errorf("reading box structure: %w", err)
	}
	return nil
}
