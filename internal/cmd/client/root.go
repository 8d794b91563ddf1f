package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the client. It registers
// the stream command group.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "mediaflo",
		Short: "mediaflo client commands",
	}
	root.AddCommand(NewStreamCommand())
	return root
}
