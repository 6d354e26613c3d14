// Package root assembles the ftlctl command tree, the way
// operator-registry's cmd/opm/root package assembles opm's.
package root

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ftlcmd "ftl/cmd/ftlctl/ftl"
	geometrycmd "ftl/cmd/ftlctl/geometry"
)

// NewCmd builds the ftlctl root command and attaches its subtrees.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ftlctl",
		Short: "flash translation layer control",
		Long:  "ftlctl inspects and verifies a simulated Open-Channel SSD's FTL state",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().String("device", "ftl.img", "path to the simulated device image")
	cmd.PersistentFlags().String("state", "ftl.state", "path to the FTL state file")
	cmd.PersistentFlags().Int("luns", 1, "number of LUNs in the simulated device")
	cmd.PersistentFlags().Int("blocks", 1, "number of blocks per LUN")
	cmd.PersistentFlags().Int("pages", 4, "pages per block")
	cmd.PersistentFlags().Int("channels", 1, "channels per LUN")
	cmd.PersistentFlags().Int("page-size", 8, "bytes per page (gran_write; gran_read and gran_erase match it)")

	cmd.AddCommand(geometrycmd.NewCmd(), ftlcmd.NewCmd())
	return cmd
}
