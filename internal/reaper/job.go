package reaper

import (
	"path"
	"strings"
)

// Kind selects the upload directory a path set lives in.
type Kind string

const (
	KindHarvest  Kind = "harvest"
	KindFarmLogo Kind = "farm_logo"
)

// PathSet holds the stored image paths of one owner, typically one harvest.
// Each path set is removed by its own task.
type PathSet struct {
	Kind  Kind
	Owner string
	Paths []string
}

// Job is the unit handed over after a cascade commits.
type Job struct {
	Sets []PathSet
}

// Add appends a path set, skipping owners without images.
func (j *Job) Add(kind Kind, owner string, paths []string) {
	if len(paths) == 0 {
		return
	}
	j.Sets = append(j.Sets, PathSet{Kind: kind, Owner: owner, Paths: append([]string(nil), paths...)})
}

func (j Job) Empty() bool {
	for _, set := range j.Sets {
		if len(set.Paths) > 0 {
			return false
		}
	}
	return true
}

// PathCount is the number of stored paths across every set.
func (j Job) PathCount() int {
	n := 0
	for _, set := range j.Sets {
		n += len(set.Paths)
	}
	return n
}

// Stem returns the file name of p without directory or extension. Stored
// paths may carry either; renditions are addressed by stem only.
func Stem(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Renditions expands one stored path to every stored format inside dir.
func Renditions(dir, p string, formats []string) []string {
	stem := Stem(p)
	if stem == "" {
		return nil
	}
	out := make([]string, 0, len(formats))
	for _, ext := range formats {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext == "" {
			continue
		}
		out = append(out, path.Join(dir, stem+"."+ext))
	}
	return out
}
