// Package ftlflags turns the root command's persistent flags into an
// open ftlsession.Session, shared by every ftlctl subcommand.
package ftlflags

import (
	"github.com/spf13/cobra"

	"ftl/internal/alloc"
	"ftl/internal/ftlsession"
	"ftl/internal/geometry"
)

// Open reads --device/--state/--luns/--blocks/--pages/--channels/
// --page-size off cmd and opens the session they describe.
func Open(cmd *cobra.Command, mode alloc.Mode) (*ftlsession.Session, error) {
	device, err := cmd.Flags().GetString("device")
	if err != nil {
		return nil, err
	}
	state, err := cmd.Flags().GetString("state")
	if err != nil {
		return nil, err
	}
	luns, err := cmd.Flags().GetInt("luns")
	if err != nil {
		return nil, err
	}
	blocks, err := cmd.Flags().GetInt("blocks")
	if err != nil {
		return nil, err
	}
	pages, err := cmd.Flags().GetInt("pages")
	if err != nil {
		return nil, err
	}
	channels, err := cmd.Flags().GetInt("channels")
	if err != nil {
		return nil, err
	}
	pageSize, err := cmd.Flags().GetInt("page-size")
	if err != nil {
		return nil, err
	}

	layout := geometry.SimLayout{
		NrLuns:        luns,
		NrBlocks:      blocks,
		NrPagesPerBlk: pages,
		NChannels:     channels,
		GranRead:      pageSize,
		GranWrite:     pageSize,
		GranErase:     pageSize,
	}
	return ftlsession.Open(device, state, layout, mode)
}
