package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"lastmile/cache"
	"lastmile/trackfeed"
)

// trackwatch follows one route's live tracking feed from a terminal. It is
// the headless equivalent of the customer tracking page.
func main() {
	routeID := flag.String("route", "", "route ID to follow")
	server := flag.String("server", "http://localhost:8090", "dispatch server base URL")
	cachePath := flag.String("cache", "trackwatch.db", "offline snapshot cache ('' to disable)")
	flag.Parse()

	if *routeID == "" {
		log.Fatal("-route is required")
	}

	var c *cache.Cache
	if *cachePath != "" {
		var err error
		c, err = cache.Open(*cachePath)
		if err != nil {
			log.Fatalf("open cache: %v", err)
		}
		defer c.Close()
	}

	ch := trackfeed.NewChannel(*routeID, *server, c)
	ch.OnState = func(s trackfeed.ConnState) {
		log.Printf("trackwatch route=%s state=%s", *routeID, s)
	}
	ch.OnView = func(v trackfeed.View) {
		printView(v)
	}

	// Show whatever we have before the first event arrives, cached included.
	printView(ch.View())

	ch.Start(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ch.Close()
}

func printView(v trackfeed.View) {
	label := "LIVE"
	if !v.Live {
		label = "CACHED"
		if !v.LastCachedAt.IsZero() {
			label = fmt.Sprintf("CACHED as of %s", v.LastCachedAt.Format("15:04:05 MST"))
		}
	}
	fmt.Printf("--- route %s [%s] ---\n", v.RouteID, label)
	if v.DriverLocation != nil {
		fmt.Printf("driver at %.5f,%.5f (updated %s)\n",
			v.DriverLocation.Lat, v.DriverLocation.Lng,
			v.DriverLocation.UpdatedAt.Format("15:04:05"))
	}
	for _, s := range v.Stops {
		eta := "-"
		if s.ETA != nil {
			eta = s.ETA.Format("15:04")
		}
		fmt.Printf("%3d  %-10s eta=%s  %s\n", s.StopOrder, s.Status, eta, s.AppointmentID)
	}
}
