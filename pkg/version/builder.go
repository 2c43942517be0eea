package version

import (
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-leveldb/pkg/keys"
)

// builder accumulates edits on top of a base version and materializes
// the result. Deletions are applied before additions so a file moved
// between levels by one edit survives.
type builder struct {
	icmp    keys.InternalComparator
	base    *Version
	deleted [NumLevels]map[uint64]bool
	added   [NumLevels][]*FileMetadata
}

func newBuilder(icmp keys.InternalComparator, base *Version) *builder {
	b := &builder{icmp: icmp, base: base}
	for level := range b.deleted {
		b.deleted[level] = make(map[uint64]bool)
	}
	return b
}

// apply folds one edit into the builder.
func (b *builder) apply(edit *VersionEdit, vs *VersionSet) {
	for _, cp := range edit.CompactPointers {
		vs.compactPointers[cp.Level] = append([]byte(nil), cp.Key...)
	}
	for _, df := range edit.DeletedFiles {
		b.deleted[df.Level][df.Number] = true
	}
	for _, nf := range edit.NewFiles {
		delete(b.deleted[nf.Level], nf.Meta.Number)
		b.added[nf.Level] = append(b.added[nf.Level], nf.Meta)
	}
}

// saveTo materializes the accumulated state into v.
func (b *builder) saveTo(v *Version) error {
	for level := 0; level < NumLevels; level++ {
		files := make([]*FileMetadata, 0, len(b.base.files[level])+len(b.added[level]))
		for _, f := range b.base.files[level] {
			if !b.deleted[level][f.Number] {
				files = append(files, f)
			}
		}
		for _, f := range b.added[level] {
			if !b.deleted[level][f.Number] {
				files = append(files, f)
			}
		}
		sort.Slice(files, func(i, j int) bool {
			if r := b.icmp.Compare(files[i].Smallest, files[j].Smallest); r != 0 {
				return r < 0
			}
			return files[i].Number < files[j].Number
		})
		if level > 0 {
			// Deeper levels must stay disjoint.
			for i := 1; i < len(files); i++ {
				if b.icmp.Compare(files[i-1].Largest, files[i].Smallest) >= 0 {
					return fmt.Errorf("level %d files %06d and %06d overlap",
						level, files[i-1].Number, files[i].Number)
				}
			}
		}
		v.files[level] = files
	}
	return nil
}
