package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"deckmerge/internal/collector"
)

const defaultServer = "http://localhost:3000"

type mergeOpts struct {
	server  string
	exclude []int
	output  string
}

// MergeCommand submits local decks to a merge server in argument order.
func MergeCommand() *cobra.Command {
	opts := mergeOpts{}

	cmd := &cobra.Command{
		Use:     "merge FILE...",
		Short:   "Merge decks into one presentation",
		Example: "deckmerge merge intro.pptx body.pptx outro.pptx --exclude 2 -o merged.pptx",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", defaultServer, "Base URL of the deckmerge server")
	cmd.Flags().IntSliceVar(&opts.exclude, "exclude", nil, "1-based position of a listed file to drop before merging. Can be repeated")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Download the merged deck to this path")

	return cmd
}

func runMerge(cmd *cobra.Command, opts mergeOpts, args []string) error {
	out := cmd.OutOrStdout()

	set := collector.NewUploadSet()
	candidates := make([]collector.File, 0, len(args))
	for _, arg := range args {
		candidates = append(candidates, collector.FileFromPath(arg))
	}
	added, err := set.Add(candidates...)
	if err != nil {
		return err
	}
	if skipped := len(candidates) - added; skipped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %d file(s) without the %s extension\n", skipped, collector.Extension)
	}

	if err := excludePositions(set, opts.exclude); err != nil {
		return err
	}
	if !set.CanMerge() {
		return errors.New("nothing left to merge")
	}

	for i, f := range set.Snapshot() {
		fmt.Fprintf(out, "%d. %s\n", i+1, f.Name)
	}

	client, err := collector.NewClient(opts.server,
		collector.WithProgress(NewSpinner(cmd.ErrOrStderr(), " merging...")),
	)
	if err != nil {
		return err
	}
	result, err := client.Submit(cmd.Context(), set)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "merged: %s\n", result.DownloadURL)

	if opts.output == "" {
		return nil
	}
	f, err := os.Create(opts.output)
	if err != nil {
		return err
	}
	n, err := client.Download(cmd.Context(), result, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(opts.output)
		return err
	}
	fmt.Fprintf(out, "saved %s (%s)\n", opts.output, humanize.Bytes(uint64(n)))
	return nil
}

// excludePositions removes 1-based positions, highest first so the
// remaining positions stay valid.
func excludePositions(set *collector.UploadSet, positions []int) error {
	sorted := append([]int(nil), positions...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	last := -1
	for _, pos := range sorted {
		if pos == last {
			continue
		}
		last = pos
		if err := set.Remove(pos - 1); err != nil {
			return fmt.Errorf("exclude %d: %w", pos, err)
		}
	}
	return nil
}
