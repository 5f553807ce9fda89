package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"deckmerge/internal/pptx"
)

// InspectCommand prints the slide listing and outline of local decks.
func InspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Show slide parts and slide order of decks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := inspectFile(cmd, path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		},
	}
}

func inspectFile(cmd *cobra.Command, path string) error {
	var insp pptx.Inspector
	count, err := insp.CountSlideParts(path)
	if err != nil {
		return err
	}
	indices, err := insp.SlideIndices(path)
	if err != nil {
		return err
	}
	outline, err := insp.Outline(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", path)
	fmt.Fprintf(out, "  slide parts: %d %v\n", count, indices)
	if count != len(indices) || (len(indices) > 0 && indices[len(indices)-1] != len(indices)) {
		fmt.Fprintf(out, "  warning: slide part numbering has gaps\n")
	}
	for _, s := range outline {
		fmt.Fprintf(out, "  %3d  %-24s %s\n", s.Position, s.Part, strings.TrimSpace(s.Text))
	}
	return nil
}
