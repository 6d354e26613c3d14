// Package geometry implements ftlctl's "geometry" subcommand.
package geometry

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ftl/internal/alloc"
	"ftl/cmd/ftlctl/ftlflags"
)

// NewCmd builds the "ftlctl geometry" command.
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geometry",
		Short: "print the simulated device's geometry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := ftlflags.Open(cmd, alloc.PageMode)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := sess.Close(); cerr != nil {
					logrus.WithError(cerr).Warn("closing device")
				}
			}()
			fmt.Println(sess.Geo.Describe())
			return nil
		},
	}
}
