package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/tools/racebot"
)

func main() {
	url := flag.String("url", "ws://localhost:43127/ws", "race server websocket url")
	bots := flag.Int("bots", 2, "number of bots to race against each other")
	name := flag.String("name", "racebot", "name prefix for the bots")
	laps := flag.Int("laps", racebot.DefaultLaps, "laps each bot drives")
	lapTime := flag.Duration("lap-time", 0, "time per lap; defaults just above the server minimum")
	admin := flag.String("admin", "", "admin gRPC address; when set, list rooms instead of racing")
	secret := flag.String("secret", "", "admin shared secret")
	watch := flag.Int("watch", 0, "with -admin, stream this many finished races instead of listing rooms")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *admin != "" {
		if err := runAdmin(ctx, *admin, *secret, *watch); err != nil {
			fmt.Fprintln(os.Stderr, "admin:", err)
			os.Exit(1)
		}
		return
	}

	logger := logging.NewWriterLogger(os.Stderr, logging.InfoLevel)
	summaries := make([]racebot.Summary, *bots)
	errs := make([]error, *bots)
	var wg sync.WaitGroup
	//1.- Start every bot before any of them queues so they land in one room.
	for i := 0; i < *bots; i++ {
		bot, err := racebot.Dial(ctx, racebot.Options{
			URL:     *url,
			Name:    fmt.Sprintf("%s-%d", *name, i+1),
			Laps:    *laps,
			LapTime: *lapTime,
			Logger:  logger,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "dial:", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func(i int, bot *racebot.Bot) {
			defer wg.Done()
			defer bot.Close()
			summaries[i], errs[i] = bot.Run(ctx)
		}(i, bot)
	}
	wg.Wait()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaries); err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(3)
	}
	for i, err := range errs {
		if err != nil {
			fmt.Fprintf(os.Stderr, "bot %d: %v\n", i+1, err)
			os.Exit(2)
		}
	}
}

func runAdmin(ctx context.Context, target, secret string, watch int) error {
	client, err := racebot.DialAdmin(target, secret)
	if err != nil {
		return err
	}
	defer client.Close()
	if watch > 0 {
		return client.WatchResults(ctx, os.Stdout, watch)
	}
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return client.WriteRooms(listCtx, os.Stdout)
}
