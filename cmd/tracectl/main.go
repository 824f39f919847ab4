package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andyvauliln/paysync/internal/tracelog"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "tracectl",
		Short:   "Inspect payment sync trace logs",
		Version: Version,
	}

	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(ridsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func eventsCmd() *cobra.Command {
	var file, rid, step string
	var sorted bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the events recorded for one rid",
		RunE: func(cmd *cobra.Command, args []string) error {
			rid = strings.TrimSpace(rid)
			if rid == "" {
				return fmt.Errorf("--rid is required")
			}
			events, err := readEvents(file, rid)
			if err != nil {
				return err
			}
			events = tracelog.FilterStep(events, strings.TrimSpace(step))
			if sorted {
				tracelog.SortByTS(events)
			}
			if len(events) == 0 {
				return fmt.Errorf("no events for rid %s", rid)
			}
			return writeLines(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Trace log path, - for stdin")
	cmd.Flags().StringVar(&rid, "rid", "", "Request id to extract")
	cmd.Flags().StringVar(&step, "step", "", "Only print events with this step")
	cmd.Flags().BoolVar(&sorted, "sort", false, "Order events by timestamp")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func ridsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "rids",
		Short: "List request ids with event counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := open(file)
			if err != nil {
				return err
			}
			defer closeFn()

			summaries, err := tracelog.Summarize(r)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range summaries {
				fmt.Fprintf(out, "%s\t%d\t%s\t%s\n", s.RID, s.Events, s.FirstTS, s.LastTS)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Trace log path, - for stdin")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readEvents(file, rid string) ([]tracelog.Event, error) {
	if file != "-" {
		return tracelog.ReadFile(file, rid)
	}
	return tracelog.ReadEvents(os.Stdin, rid)
}

func open(file string) (io.Reader, func(), error) {
	if file == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// writeLines prints one JSON object per line so output can be piped back
// into the reader.
func writeLines(w io.Writer, events []tracelog.Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
