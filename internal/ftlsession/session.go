// Package ftlsession wires together the pieces cmd/ftlctl needs to
// open a device, load its FTL state, and hand back an Api ready for
// the file adapters — the glue a CLI needs but no FTL component
// itself does.
package ftlsession

import (
	"os"

	"github.com/sirupsen/logrus"

	"ftl/internal/alloc"
	"ftl/internal/ftlerr"
	"ftl/internal/ftlfile"
	"ftl/internal/ftlstate"
	"ftl/internal/geometry"
)

var log = logrus.WithField("component", "ftlsession")

// Session bundles an opened device, its geometry, the allocator seeded
// by replaying the FTL state file, and the files that state described.
type Session struct {
	Geo   *geometry.Geometry_t
	Dev   *geometry.SimDevice
	Alloc *alloc.Allocator
	Api   ftlfile.Api
	Files []*ftlfile.File

	statePath string
}

// Open opens (creating if absent) a simulated device at devicePath
// with the given layout, then replays statePath, if it exists, to
// reconstruct the allocator's in-use bitmap and the file set.
func Open(devicePath, statePath string, layout geometry.SimLayout, mode alloc.Mode) (*Session, error) {
	dev, err := geometry.OpenSimDevice(devicePath, layout)
	if err != nil {
		return nil, err
	}
	geo, err := geometry.Open(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}

	al := alloc.New(geo, dev, mode)
	api := ftlfile.Api{Geo: geo, Alloc: al}

	var files []*ftlfile.File
	if f, err := os.Open(statePath); err == nil {
		loaded, loadErr := ftlstate.LoadAll(f, api)
		f.Close()
		if loadErr != nil {
			dev.Close()
			return nil, loadErr
		}
		files = loaded
	} else if !os.IsNotExist(err) {
		dev.Close()
		return nil, ftlerr.Wrap(ftlerr.DeviceIO, err, "opening FTL state file")
	}

	return &Session{
		Geo:       geo,
		Dev:       dev,
		Alloc:     al,
		Api:       api,
		Files:     files,
		statePath: statePath,
	}, nil
}

// Save persists the session's current file set back to its state
// path, writing to a temporary file first so a crash mid-write cannot
// corrupt the previous good copy.
func (s *Session) Save() error {
	tmp := s.statePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return ftlerr.Wrap(ftlerr.DeviceIO, err, "creating FTL state temp file")
	}
	if err := ftlstate.SaveAll(f, s.Files); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return ftlerr.Wrap(ftlerr.DeviceIO, err, "closing FTL state temp file")
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return ftlerr.Wrap(ftlerr.DeviceIO, err, "renaming FTL state temp file")
	}
	return nil
}

// Close releases the underlying device.
func (s *Session) Close() error {
	if err := s.Dev.Close(); err != nil {
		log.WithError(err).Warn("closing device failed")
		return err
	}
	return nil
}

// FindNamed returns the first open file carrying name, if any.
func (s *Session) FindNamed(name string) *ftlfile.File {
	for _, f := range s.Files {
		if f.HasName(name) {
			return f
		}
	}
	return nil
}
