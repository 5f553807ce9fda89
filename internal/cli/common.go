package cli

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// Root builds the deckmerge command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:           "deckmerge",
		Short:         "Merge PowerPoint decks through a deckmerge server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(MergeCommand(), InspectCommand())
	return root
}

// NewSpinner returns the progress indicator shown while a merge is running.
// It writes to w and stays silent when w is not a terminal.
func NewSpinner(w io.Writer, suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = suffix
	return s
}
