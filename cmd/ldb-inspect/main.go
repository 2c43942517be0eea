// ldb-inspect - database structure inspection tool
// Dumps the MANIFEST, table files, and WALs of a database directory.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/dd0wney/cluso-leveldb/pkg/compress"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/table"
	"github.com/dd0wney/cluso-leveldb/pkg/version"
	"github.com/dd0wney/cluso-leveldb/pkg/vfs"
	"github.com/dd0wney/cluso-leveldb/pkg/wal"
)

var (
	dbPath    = flag.String("db", "", "database directory (required)")
	showFiles = flag.Bool("files", true, "list database files")
	showEdits = flag.Bool("manifest", true, "decode the active MANIFEST")
	dumpTable = flag.Uint64("table", 0, "dump the entries of table file <n>")
	dumpWAL   = flag.Uint64("wal", 0, "dump the records of WAL file <n>")
	keyLimit  = flag.Int("limit", 50, "entry display limit for -table/-wal")
)

func main() {
	flag.Parse()

	if *dbPath == "" {
		fmt.Println("error: a database path is required")
		fmt.Println("\nusage:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Printf("🔍 cluso-leveldb inspector\n")
	fmt.Printf("==========================\n\n")
	fmt.Printf("Database: %s\n\n", *dbPath)

	if *showFiles {
		listFiles(*dbPath)
	}
	if *showEdits {
		decodeManifest(*dbPath)
	}
	if *dumpTable != 0 {
		dumpTableFile(*dbPath, *dumpTable)
	}
	if *dumpWAL != 0 {
		dumpWALFile(*dbPath, *dumpWAL)
	}
}

func listFiles(dir string) {
	names, err := vfs.OS().List(dir)
	if err != nil {
		log.Fatalf("list %s: %v", dir, err)
	}
	sort.Strings(names)

	fmt.Printf("📂 Files\n")
	var total int64
	for _, name := range names {
		ft, num, ok := vfs.ParseFileName(name)
		if !ok {
			continue
		}
		size, _ := vfs.OS().Size(filepath.Join(dir, name))
		total += size
		fmt.Printf("  %-20s %-10s num=%-6d %8d bytes\n", name, typeName(ft), num, size)
	}
	fmt.Printf("  total: %d bytes\n\n", total)
}

func typeName(ft vfs.FileType) string {
	switch ft {
	case vfs.TypeCurrent:
		return "current"
	case vfs.TypeLock:
		return "lock"
	case vfs.TypeLog:
		return "wal"
	case vfs.TypeManifest:
		return "manifest"
	case vfs.TypeTable:
		return "table"
	case vfs.TypeTemp:
		return "temp"
	case vfs.TypeInfoLog:
		return "info-log"
	}
	return "?"
}

func decodeManifest(dir string) {
	name, err := vfs.ReadCurrentFile(vfs.OS(), dir)
	if err != nil {
		log.Fatalf("read CURRENT: %v", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open %s: %v", name, err)
	}
	defer f.Close()

	fmt.Printf("📜 %s\n", name)
	reader := wal.NewReader(f)
	for n := 0; ; n++ {
		rec, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("manifest record %d: %v", n, err)
		}
		edit, err := version.DecodeEdit(rec)
		if err != nil {
			log.Fatalf("manifest record %d: %v", n, err)
		}
		fmt.Printf("  edit %d:\n", n)
		if edit.ComparatorName != "" {
			fmt.Printf("    comparator:  %s\n", edit.ComparatorName)
		}
		fmt.Printf("    log=%d next_file=%d last_seq=%d\n",
			edit.LogNumber, edit.NextFileNumber, edit.LastSequence)
		for _, df := range edit.DeletedFiles {
			fmt.Printf("    delete: L%d %06d\n", df.Level, df.Number)
		}
		for _, nf := range edit.NewFiles {
			fmt.Printf("    add:    L%d %06d %d bytes [%s .. %s]\n",
				nf.Level, nf.Meta.Number, nf.Meta.Size,
				fmtInternalKey(nf.Meta.Smallest), fmtInternalKey(nf.Meta.Largest))
		}
	}
	fmt.Println()
}

func dumpTableFile(dir string, num uint64) {
	path := vfs.TableFileName(dir, num)
	f, err := os.Open(path)
	if err != nil {
		path = vfs.SSTTableFileName(dir, num)
		f, err = os.Open(path)
	}
	if err != nil {
		log.Fatalf("open table %06d: %v", num, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		log.Fatalf("stat table: %v", err)
	}

	r, err := table.NewReader(f, st.Size(), table.ReaderOptions{
		Comparator:      keys.InternalComparator{User: keys.BytewiseComparator()},
		Compressors:     compress.DefaultRegistry(),
		VerifyChecksums: true,
	})
	if err != nil {
		log.Fatalf("open table %06d: %v", num, err)
	}

	fmt.Printf("📦 table %06d (%d bytes)\n", num, st.Size())
	it := r.NewIterator()
	defer it.Close()
	n := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if n < *keyLimit {
			fmt.Printf("  %-40s %d bytes\n", fmtInternalKey(it.Key()), len(it.Value()))
		}
		n++
	}
	if err := it.Err(); err != nil {
		log.Fatalf("iterate table: %v", err)
	}
	if n > *keyLimit {
		fmt.Printf("  ... %d more entries\n", n-*keyLimit)
	}
	fmt.Printf("  total: %d entries\n\n", n)
}

func dumpWALFile(dir string, num uint64) {
	path := vfs.LogFileName(dir, num)
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open wal %06d: %v", num, err)
	}
	defer f.Close()

	fmt.Printf("📝 wal %06d\n", num)
	reader := wal.NewReader(f)
	for n := 0; ; n++ {
		rec, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("wal record %d: %v", n, err)
		}
		if n < *keyLimit {
			fmt.Printf("  record %d: %d bytes\n", n, len(rec))
		}
	}
	fmt.Println()
}

func fmtInternalKey(ikey []byte) string {
	ukey, seq, kind, err := keys.ParseInternalKey(ikey)
	if err != nil {
		return fmt.Sprintf("?%x", ikey)
	}
	k := "set"
	if kind == keys.KindDelete {
		k = "del"
	}
	return fmt.Sprintf("%q@%d(%s)", ukey, seq, k)
}
