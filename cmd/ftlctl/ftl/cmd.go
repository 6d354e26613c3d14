// Package ftl implements ftlctl's "ftl" subcommand group: stats, dump,
// and fsck over a device's replayed FTL state.
package ftl

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ftl/cmd/ftlctl/ftlflags"
	"ftl/internal/alloc"
	"ftl/internal/geometry"
)

// NewCmd builds the "ftlctl ftl" command and its subcommands.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ftl",
		Short: "inspect and verify FTL state",
	}
	cmd.AddCommand(newStatsCmd(), newDumpCmd(), newFsckCmd())
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print per-LUN free/allocated page and block counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := ftlflags.Open(cmd, alloc.BlockMode)
			if err != nil {
				return err
			}
			defer closeSession(sess)

			s := sess.Alloc.Stats()
			for i, ls := range s.PerLun {
				fmt.Printf("lun %d: free_pages=%d allocated_pages=%d free_blocks=%d\n",
					i, ls.FreePages, ls.AllocatedPages, ls.FreeBlocks)
			}
			fmt.Printf("files: %d\n", len(sess.Files))
			return nil
		},
	}
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "print every file's names, size, and page list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := ftlflags.Open(cmd, alloc.BlockMode)
			if err != nil {
				return err
			}
			defer closeSession(sess)

			for _, f := range sess.Files {
				fmt.Printf("names=%v size=%d last_modified=%s pages=%v\n",
					f.EnumerateNames(), f.Size(), f.LastModified(), f.Pages())
			}
			return nil
		},
	}
}

func newFsckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fsck",
		Short: "verify no page is claimed by more than one file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := ftlflags.Open(cmd, alloc.BlockMode)
			if err != nil {
				return err
			}
			defer closeSession(sess)

			owners := make(map[geometry.Triple][]string)
			for _, f := range sess.Files {
				name := "<unnamed>"
				if names := f.EnumerateNames(); len(names) > 0 {
					name = names[0]
				}
				for _, t := range f.Pages() {
					owners[t] = append(owners[t], name)
				}
			}

			bad := 0
			for t, names := range owners {
				if len(names) > 1 {
					bad++
					fmt.Printf("page %s claimed by multiple files: %v\n", t, names)
				}
			}
			if bad == 0 {
				fmt.Println("fsck: ok")
				return nil
			}
			return fmt.Errorf("fsck: %d page(s) multiply claimed", bad)
		},
	}
}

func closeSession(sess interface{ Close() error }) {
	if err := sess.Close(); err != nil {
		logrus.WithError(err).Warn("closing device")
	}
}
