// Package ftlstate implements FTL persistence (component C9):
// serializing and deserializing each file's metadata and page list as
// a textual record so the translation layer survives a restart.
//
// Record format (spec.md §4.9), one per line, newline-terminated:
//
//	f:<name1>,<name2>,...:<size>:<last_modified>:<L1-B1-P1>,<L2-B2-P2>,...
//
// Names may not contain ':' or ',' (enforced by ftlfile.File on
// insert); size and last_modified are decimal; a missing trailing
// triples section (immediate newline after the final ':') is a valid
// empty file.
package ftlstate

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"ftl/internal/ftlerr"
	"ftl/internal/ftlfile"
	"ftl/internal/geometry"
)

// SaveFile writes file's record to w. Each field is written with its
// own io.WriteString call so a failing writer reports exactly which
// step failed: IOError("fError writing N") with
// a distinct N per write, matching spec.md §4.9.
func SaveFile(w io.Writer, file *ftlfile.File) error {
	names := file.EnumerateNames()
	pages := file.Pages()
	size := file.Size()
	mtime := file.LastModified().Unix()

	step := 0
	write := func(s string) error {
		step++
		if _, err := io.WriteString(w, s); err != nil {
			return ftlerr.Wrap(ftlerr.DeviceIO, err, "fError writing %d", step)
		}
		return nil
	}

	pageStrs := make([]string, len(pages))
	for i, p := range pages {
		pageStrs[i] = p.String()
	}

	fields := []string{
		"f:",
		strings.Join(names, ","),
		":",
		strconv.FormatInt(size, 10),
		":",
		strconv.FormatInt(mtime, 10),
		":",
		strings.Join(pageStrs, ","),
		"\n",
	}
	for _, f := range fields {
		if err := write(f); err != nil {
			return err
		}
	}
	return nil
}

// SaveAll writes one record per file, in order.
func SaveAll(w io.Writer, files []*ftlfile.File) error {
	for _, f := range files {
		if err := SaveFile(w, f); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile parses one record (without its trailing newline) and
// reconstructs an ftlfile.File, claiming each listed page through api
// so the allocator marks it in use. A page the allocator can no longer
// grant (already allocated, or outside the current geometry) fails
// the load with a Corrupt error.
func LoadFile(line string, api ftlfile.Api) (*ftlfile.File, error) {
	parts := strings.SplitN(line, ":", 5)
	if len(parts) != 5 || parts[0] != "f" {
		return nil, ftlerr.New(ftlerr.Corrupt, "malformed FTL record: %q", line)
	}
	namesPart, sizePart, mtimePart, pagesPart := parts[1], parts[2], parts[3], parts[4]

	size, err := strconv.ParseInt(sizePart, 10, 64)
	if err != nil {
		return nil, ftlerr.Wrap(ftlerr.Corrupt, err, "malformed size field %q", sizePart)
	}
	mtimeUnix, err := strconv.ParseInt(mtimePart, 10, 64)
	if err != nil {
		return nil, ftlerr.Wrap(ftlerr.Corrupt, err, "malformed last_modified field %q", mtimePart)
	}

	file := ftlfile.New()

	var names []string
	if namesPart != "" {
		names = strings.Split(namesPart, ",")
	}
	// names were saved most-recently-added-first; AddName prepends, so
	// restoring that exact order means adding them back to front.
	for i := len(names) - 1; i >= 0; i-- {
		if err := file.AddName(names[i]); err != nil {
			return nil, ftlerr.Wrap(ftlerr.Corrupt, err, "restoring name %q", names[i])
		}
	}

	if pagesPart != "" {
		for _, ts := range strings.Split(pagesPart, ",") {
			t, err := parseTriple(ts)
			if err != nil {
				return nil, err
			}
			if err := file.ClaimNewPageAt(api, t); err != nil {
				return nil, ftlerr.Wrap(ftlerr.Corrupt, err, "claiming replayed page %s", t)
			}
		}
	}

	file.SetSize(size)
	file.RestoreLastModified(time.Unix(mtimeUnix, 0))
	return file, nil
}

func parseTriple(s string) (geometry.Triple, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return geometry.Triple{}, ftlerr.New(ftlerr.Corrupt, "malformed page triple %q", s)
	}
	lun, err1 := strconv.Atoi(parts[0])
	block, err2 := strconv.Atoi(parts[1])
	page, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return geometry.Triple{}, ftlerr.New(ftlerr.Corrupt, "malformed page triple %q", s)
	}
	return geometry.Triple{Lun: lun, Block: block, Page: page}, nil
}

// LoadAll reads one record per line from r until EOF, in order.
func LoadAll(r io.Reader, api ftlfile.Api) ([]*ftlfile.File, error) {
	var files []*ftlfile.File
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		f, err := LoadFile(line, api)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, ftlerr.Wrap(ftlerr.DeviceIO, err, "scanning FTL state file")
	}
	return files, nil
}
