package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "replay directory containing room recordings")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		header := entry.Header
		fmt.Printf("%s (schema %d)\n", header.RoomID, header.SchemaVersion)
		fmt.Printf("  recorded: %s, %s\n", header.CreatedAt.Format(time.RFC3339), header.ClosedAt.Sub(header.CreatedAt).Round(time.Millisecond))
		fmt.Printf("  events:   %d\n", header.Events)
		fmt.Printf("  archive:  %s\n", entry.ReplayPath)
	}
}
