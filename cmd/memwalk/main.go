// Command memwalk is a reference CLI driving the search executor and
// pointer-chain scanner against a live process, bound via the procfs
// driver. Flag wiring and the grail.Init() bootstrap follow
// cmd/bio-fusion/main.go's shape; this binary exists to exercise the
// engine end to end, not as a production memory-editing tool.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
	"github.com/memwalk/engine/drivers/procfs"
	"github.com/memwalk/engine/internal/config"
	"github.com/memwalk/engine/memaccess"
	"github.com/memwalk/engine/pattern"
	"github.com/memwalk/engine/pointerscan"
	"github.com/memwalk/engine/resultstore"
	"github.com/memwalk/engine/scantypes"
	"github.com/memwalk/engine/search"
	"github.com/memwalk/engine/status"
)

func usage() {
	fmt.Fprintf(os.Stderr, `memwalk: pointer-chain and value search over a live process.

All flags precede the subcommand (standard flag.Parse behavior stops at
the first non-flag argument):

  memwalk -pid <pid> -query <literal> -regions <spec> [-range N] [-ordered] [-deep] [-keep] search
  memwalk -pid <pid> -pattern <mask> -regions <spec> pattern
  memwalk -pid <pid> -target <hex> -depth N -window <hex> -regions <spec> -output <path> [-gzip] pointer-scan

Region spec: comma-separated start:end[:name[:static]], e.g.
  0x1000:0x2000:/system/lib/libfoo.so:static,0x4000:0x6000

`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage

	pid := flag.Int("pid", 0, "target process id")
	cacheDir := flag.String("cache-dir", config.DefaultOpts.CacheDir, "directory for MapQueue spill files")
	memBudget := flag.Int("mem-budget", config.DefaultOpts.ResultMemoryBudgetBytes, "result store in-memory budget, bytes")
	compatMode := flag.Bool("compat-mode", config.DefaultOpts.CompatMode, "promote exact search survivors to fuzzy results (§4.4.8)")
	chunkSize := flag.Int("chunk-size", config.DefaultOpts.ChunkSize, "per-region read granularity, bytes (search subcommand)")
	grainSize := flag.Int("grain-size", config.DefaultOpts.GrainSize, "per-goroutine unit of work within one chunk, bytes (search subcommand)")
	maxFrontier := flag.Int("max-frontier", config.DefaultOpts.MaxFrontier, "per-level BFS frontier cap before truncation (pointer-scan subcommand)")

	regionsFlag := flag.String("regions", "", "region spec (see usage)")
	queryFlag := flag.String("query", "", "search query literal (search subcommand)")
	rangeFlag := flag.Uint("range", 0, "group-query band width (search subcommand)")
	ordered := flag.Bool("ordered", false, "group query values must appear in address order")
	deep := flag.Bool("deep", false, "try every group-query value as anchor")
	keep := flag.Bool("keep", false, "keep existing results instead of replacing them")
	patternFlag := flag.String("pattern", "", "masked byte pattern, e.g. \"DE AD ?? BE\" (pattern subcommand)")
	targetFlag := flag.String("target", "", "target address, hex (pointer-scan subcommand)")
	depthFlag := flag.Int("depth", 5, "max pointer-chain depth (pointer-scan subcommand)")
	windowFlag := flag.String("window", "0x100", "per-hop slack window, hex (pointer-scan subcommand)")
	maxResults := flag.Int("max-results", 1000, "cap on emitted pointer chains (pointer-scan subcommand)")
	output := flag.String("output", "", "output file path (pointer-scan subcommand)")
	gzipOutput := flag.Bool("gzip", false, "gzip-compress the pointer-scan output file")

	cleanup := grail.Init()
	defer cleanup()

	if flag.NArg() == 0 {
		usage()
		log.Fatal("a subcommand is required")
	}
	cmd := flag.Arg(0)
	if *pid == 0 {
		log.Fatal("-pid is required")
	}

	driver := procfs.New()
	gw := memaccess.New()
	gw.SetDriver(driver)
	bp, err := gw.BindProcess(*pid, config.DefaultOpts.DefaultAccessMode)
	if err != nil {
		log.Fatalf("binding pid %d: %v", *pid, err)
	}
	defer gw.UnbindProcess(bp)

	st := status.New(make([]byte, status.Size))
	store := resultstore.New(*memBudget, *cacheDir)

	switch cmd {
	case "search":
		regions := parseSearchRegions(*regionsFlag)
		mode := scantypes.Unordered
		if *ordered {
			mode = scantypes.Ordered
		}
		q, err := scantypes.ParseQuery(*queryFlag, mode, uint16(*rangeFlag))
		if err != nil {
			log.Fatalf("parsing query: %v", err)
		}
		exec := search.New(gw, bp, store, st)
		exec.SetCompatMode(*compatMode)
		exec.SetChunkSize(*chunkSize)
		exec.SetGrainSize(*grainSize)
		if err := exec.StartSearchAsync(q, regions, *deep, *keep); err != nil {
			log.Fatalf("starting search: %v", err)
		}
		waitTerminal(st)
		reportExact(store)

	case "pattern":
		regions := parseSearchRegions(*regionsFlag)
		mask, err := pattern.Parse(*patternFlag)
		if err != nil {
			log.Fatalf("parsing pattern: %v", err)
		}
		exec := search.New(gw, bp, store, st)
		exec.SetChunkSize(*chunkSize)
		if err := exec.StartPatternSearchAsync(mask, regions); err != nil {
			log.Fatalf("starting pattern search: %v", err)
		}
		waitTerminal(st)
		reportExact(store)

	case "pointer-scan":
		if *output == "" {
			log.Fatal("-output is required")
		}
		target, err := parseHex(*targetFlag)
		if err != nil {
			log.Fatalf("parsing -target: %v", err)
		}
		window, err := parseHex(*windowFlag)
		if err != nil {
			log.Fatalf("parsing -window: %v", err)
		}
		regions := parsePointerScanRegions(*regionsFlag)
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("creating %s: %v", *output, err)
		}
		defer f.Close()

		var w io.Writer = f
		if *gzipOutput {
			gz := gzip.NewWriter(f)
			defer gz.Close()
			w = gz
		}

		scanner := pointerscan.New(gw, bp, st, *cacheDir)
		scanner.SetMaxFrontier(*maxFrontier)
		cfg := pointerscan.Config{
			Target:     target,
			Depth:      *depthFlag,
			Window:     window,
			Alignment:  config.DefaultOpts.Alignment,
			MaxResults: *maxResults,
		}
		res, err := scanner.Run(cfg, regions, w)
		if err != nil {
			log.Fatalf("pointer scan: %v", err)
		}
		log.Printf("pointer-scan: %d pointers, %d chains found, %d written to %s",
			res.PointersFound, res.ChainsFound, res.ChainsWritten, *output)

	default:
		usage()
		log.Fatalf("unknown subcommand %q", cmd)
	}
}

func waitTerminal(st *status.Buffer) {
	for {
		switch st.Phase() {
		case status.Completed, status.Cancelled, status.Error:
			return
		}
	}
}

func reportExact(store *resultstore.Store) {
	results, err := store.GetAllExactResults()
	if err != nil {
		log.Fatalf("reading results: %v", err)
	}
	for _, r := range results {
		fmt.Printf("0x%X\t%s\n", r.Address, r.Type)
	}
	log.Printf("%d results", len(results))
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

type regionSpec struct {
	start, end uint64
	name       string
	static     bool
}

func parseRegionSpecs(s string) []regionSpec {
	var out []regionSpec
	if strings.TrimSpace(s) == "" {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) < 2 {
			log.Fatalf("invalid region spec %q", part)
		}
		start, err := parseHex(fields[0])
		if err != nil {
			log.Fatalf("invalid region start %q: %v", fields[0], err)
		}
		end, err := parseHex(fields[1])
		if err != nil {
			log.Fatalf("invalid region end %q: %v", fields[1], err)
		}
		spec := regionSpec{start: start, end: end}
		if len(fields) >= 3 {
			spec.name = fields[2]
		}
		if len(fields) >= 4 && fields[3] == "static" {
			spec.static = true
		}
		out = append(out, spec)
	}
	return out
}

func parseSearchRegions(s string) []search.Region {
	specs := parseRegionSpecs(s)
	out := make([]search.Region, len(specs))
	for i, r := range specs {
		out[i] = search.Region{Start: r.start, End: r.end}
	}
	return out
}

func parsePointerScanRegions(s string) []pointerscan.Region {
	specs := parseRegionSpecs(s)
	out := make([]pointerscan.Region, len(specs))
	for i, r := range specs {
		out[i] = pointerscan.Region{
			Start:    r.start,
			End:      r.end,
			Name:     r.name,
			IsStatic: r.static,
			Perms:    pointerscan.Perms{Read: true},
		}
	}
	return out
}
