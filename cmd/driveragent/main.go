package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lastmile/cache"
	"lastmile/config"
	"lastmile/tracker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	routeID := flag.String("route", "", "route ID to report positions for")
	server := flag.String("server", "", "dispatch server base URL (overrides config)")
	cachePath := flag.String("cache", "", "offline cache path (overrides config)")
	replay := flag.String("replay", "", "path to a JSON-lines position file to play back")
	interval := flag.Duration("replay-interval", time.Second, "delay between replayed positions")
	flag.Parse()

	if *routeID == "" {
		log.Fatal("-route is required")
	}

	cfg := config.Defaults()
	if path := os.Getenv("LASTMILE_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if *server != "" {
		cfg.Driver.ServerURL = *server
	}
	if *cachePath != "" {
		cfg.Driver.CachePath = *cachePath
	}
	if cfg.Driver.ServerURL == "" {
		log.Fatal("server URL is required (-server or driver.server_url)")
	}

	c, err := cache.Open(cfg.Driver.CachePath)
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	var source tracker.PositionSource
	if *replay != "" {
		source = tracker.NewReplaySource(*replay, *interval)
	} else {
		log.Fatal("-replay is required (no live position hardware attached)")
	}

	tx := tracker.NewHTTPTransmitter(cfg.Driver.ServerURL)

	sampler := tracker.NewSampler(*routeID, source, tx, c, tracker.Options{
		MoveThresholdM:    cfg.Driver.MoveThresholdM,
		SpeedThresholdKmh: cfg.Driver.SpeedThresholdKmh,
		PauseAfter:        cfg.Driver.PauseAfter,
		SendInterval:      cfg.Driver.SendInterval,
		QueueLimit:        cfg.Driver.QueueLimit,
	})
	sampler.SetOnlineProbe(tx.Ping)

	sampler.Start(context.Background())
	log.Printf("driveragent tracking route=%s server=%s", *routeID, cfg.Driver.ServerURL)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	sampler.Stop()
	log.Printf("driveragent stopped, queued=%d", queued(c, *routeID))
}

func queued(c *cache.Cache, routeID string) int {
	n, err := c.QueueLen("driver_updates_" + routeID)
	if err != nil {
		return 0
	}
	return n
}
