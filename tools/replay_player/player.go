// Package replayplayer rehydrates a room recording for offline inspection.
package replayplayer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replay"
)

// TypeCount reports how many events of one type a recording holds.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Bundle is the decoded view of one recording directory.
type Bundle struct {
	Directory string         `json:"directory"`
	Sealed    bool           `json:"sealed"`
	Header    replay.Header  `json:"header"`
	Counts    []TypeCount    `json:"counts"`
	Events    []replay.Event `json:"events,omitempty"`
}

// Inspect loads the recording at path. The path may point at the recording
// directory or at any file inside it.
func Inspect(path string) (Bundle, error) {
	if strings.TrimSpace(path) == "" {
		return Bundle{}, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Bundle{}, err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	loader, err := replay.Load(dir)
	if err != nil {
		return Bundle{}, err
	}
	bundle := Bundle{
		Directory: dir,
		Sealed:    loader.Sealed(),
		Header:    loader.Header(),
		Events:    loader.Entries(),
	}

	//1.- Tally types so operators can spot rejection storms without reading every line.
	tally := make(map[string]int)
	for _, kind := range loader.Types() {
		tally[kind]++
	}
	for kind, count := range tally {
		bundle.Counts = append(bundle.Counts, TypeCount{Type: kind, Count: count})
	}
	sort.Slice(bundle.Counts, func(i, j int) bool {
		if bundle.Counts[i].Count != bundle.Counts[j].Count {
			return bundle.Counts[i].Count > bundle.Counts[j].Count
		}
		return bundle.Counts[i].Type < bundle.Counts[j].Type
	})
	return bundle, nil
}

// Filter keeps only the events whose type is listed. An empty list keeps everything.
func (b Bundle) Filter(types ...string) []replay.Event {
	if len(types) == 0 {
		return b.Events
	}
	wanted := make(map[string]struct{}, len(types))
	for _, kind := range types {
		wanted[strings.TrimSpace(kind)] = struct{}{}
	}
	var out []replay.Event
	for _, event := range b.Events {
		if _, ok := wanted[event.Type]; ok {
			out = append(out, event)
		}
	}
	return out
}
