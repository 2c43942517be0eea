// benchmark-kv - key-value engine micro-benchmark driver
// Runs fillseq/fillrandom/readrandom/scan workloads against a database,
// configured by flags or a YAML file.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-leveldb/pkg/compress"
	"github.com/dd0wney/cluso-leveldb/pkg/db"
	"github.com/dd0wney/cluso-leveldb/pkg/logging"
)

// Config describes one benchmark run.
type Config struct {
	Dir         string `yaml:"dir" validate:"required"`
	Benchmarks  string `yaml:"benchmarks" validate:"required"`
	Entries     int    `yaml:"entries" validate:"gt=0"`
	ValueSize   int    `yaml:"value_size" validate:"gt=0,lte=1048576"`
	WriteBuffer int    `yaml:"write_buffer" validate:"gte=0"`
	Compression string `yaml:"compression" validate:"oneof=none snappy zlib-raw zlib zstd"`
	Sync        bool   `yaml:"sync"`
	Seed        int64  `yaml:"seed"`
}

func defaultConfig() Config {
	return Config{
		Dir:         "./data/benchmark-kv",
		Benchmarks:  "fillseq,readrandom,scan",
		Entries:     100000,
		ValueSize:   100,
		Compression: "snappy",
		Seed:        301,
	}
}

var compressionTags = map[string]uint8{
	"none":     compress.TagNone,
	"snappy":   compress.TagSnappy,
	"zlib-raw": compress.TagZlibRaw,
	"zlib":     compress.TagZlibWrapped,
	"zstd":     compress.TagZstd,
}

func main() {
	configPath := flag.String("config", "", "YAML config file (flags override)")
	dir := flag.String("dir", "", "database directory")
	benchmarks := flag.String("benchmarks", "", "comma-separated workloads")
	entries := flag.Int("entries", 0, "number of entries")
	valueSize := flag.Int("value-size", 0, "value size in bytes")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("read config: %v", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("parse config: %v", err)
		}
	}
	if *dir != "" {
		cfg.Dir = *dir
	}
	if *benchmarks != "" {
		cfg.Benchmarks = *benchmarks
	}
	if *entries > 0 {
		cfg.Entries = *entries
	}
	if *valueSize > 0 {
		cfg.ValueSize = *valueSize
	}

	if err := validator.New().Struct(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	fmt.Printf("🔥 cluso-leveldb benchmark\n")
	fmt.Printf("==========================\n\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Dir:         %s\n", cfg.Dir)
	fmt.Printf("  Benchmarks:  %s\n", cfg.Benchmarks)
	fmt.Printf("  Entries:     %d\n", cfg.Entries)
	fmt.Printf("  Value Size:  %d bytes\n", cfg.ValueSize)
	fmt.Printf("  Compression: %s\n", cfg.Compression)
	fmt.Printf("  Sync:        %v\n\n", cfg.Sync)

	os.RemoveAll(cfg.Dir)

	opts := db.DefaultOptions()
	opts.Compression = compressionTags[cfg.Compression]
	opts.Logger = logging.NewNopLogger()
	if cfg.WriteBuffer > 0 {
		opts.WriteBufferSize = cfg.WriteBuffer
	}

	d, err := db.Open(cfg.Dir, opts)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer d.Close()

	rng := rand.New(rand.NewSource(cfg.Seed))
	value := make([]byte, cfg.ValueSize)
	for i := range value {
		value[i] = byte(rng.Intn(256))
	}

	for _, bench := range strings.Split(cfg.Benchmarks, ",") {
		switch strings.TrimSpace(bench) {
		case "fillseq":
			runFill(d, cfg, value, false, rng)
		case "fillrandom":
			runFill(d, cfg, value, true, rng)
		case "readrandom":
			runReadRandom(d, cfg, rng)
		case "scan":
			runScan(d)
		default:
			log.Fatalf("unknown benchmark %q", bench)
		}
	}
}

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("key-%016d", i))
}

func runFill(d *db.DB, cfg Config, value []byte, random bool, rng *rand.Rand) {
	name := "fillseq"
	if random {
		name = "fillrandom"
	}
	fmt.Printf("📝 %s\n", name)

	wo := &db.WriteOptions{Sync: cfg.Sync}
	start := time.Now()
	for i := 0; i < cfg.Entries; i++ {
		n := i
		if random {
			n = rng.Intn(cfg.Entries)
		}
		if err := d.Put(benchKey(n), value, wo); err != nil {
			log.Fatalf("put: %v", err)
		}
	}
	report(name, cfg.Entries, (len(value)+20)*cfg.Entries, time.Since(start))
}

func runReadRandom(d *db.DB, cfg Config, rng *rand.Rand) {
	fmt.Printf("📖 readrandom\n")

	found := 0
	start := time.Now()
	for i := 0; i < cfg.Entries; i++ {
		_, err := d.Get(benchKey(rng.Intn(cfg.Entries)), nil)
		switch err {
		case nil:
			found++
		case db.ErrNotFound:
		default:
			log.Fatalf("get: %v", err)
		}
	}
	elapsed := time.Since(start)
	report("readrandom", cfg.Entries, 0, elapsed)
	fmt.Printf("  found: %d/%d\n\n", found, cfg.Entries)
}

func runScan(d *db.DB) {
	fmt.Printf("🔁 scan\n")

	it := d.NewIterator(nil)
	defer it.Close()

	n, bytes := 0, 0
	start := time.Now()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		n++
		bytes += len(it.Key()) + len(it.Value())
	}
	if err := it.Err(); err != nil {
		log.Fatalf("scan: %v", err)
	}
	report("scan", n, bytes, time.Since(start))
}

func report(name string, ops, bytes int, elapsed time.Duration) {
	opsPerSec := float64(ops) / elapsed.Seconds()
	fmt.Printf("  %-12s %10d ops in %8s  (%.0f ops/s", name, ops, elapsed.Round(time.Millisecond), opsPerSec)
	if bytes > 0 {
		fmt.Printf(", %.1f MB/s", float64(bytes)/elapsed.Seconds()/1048576)
	}
	fmt.Printf(")\n\n")
}
