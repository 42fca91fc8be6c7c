package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/kawacukennedy/3d-racing-game-sub001/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a recording directory or a file inside it")
	types := flag.String("types", "", "Comma separated event types to keep")
	summary := flag.Bool("summary", false, "Print only the header and type counts")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	bundle, err := replayplayer.Inspect(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	if *summary {
		bundle.Events = nil
	} else if *types != "" {
		bundle.Events = bundle.Filter(strings.Split(*types, ",")...)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
