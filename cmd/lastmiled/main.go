package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"lastmile/config"
	"lastmile/feed"
	"lastmile/relay"
	"lastmile/routebuild"
	"lastmile/routing"
	"lastmile/snapshot"
	"lastmile/store"
	"lastmile/www"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	configPath := flag.String("config", "lastmile.yaml", "path to config file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	origin := flag.String("origin", "", "depot origin address (overrides DEPOT_ADDRESS)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}

	depot := *origin
	if depot == "" {
		depot = os.Getenv("DEPOT_ADDRESS")
	}
	if depot == "" {
		log.Fatal("depot origin address is required (-origin or DEPOT_ADDRESS)")
	}

	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	seedOperator(db)

	provider, err := routing.NewHTTPProvider(&cfg.Directions)
	if err != nil {
		log.Fatalf("directions provider: %v", err)
	}
	optimizer := routing.NewOptimizer(provider)
	builder := routebuild.NewService(db, optimizer, depot)

	bus := feed.NewBus()

	var snaps *snapshot.Store
	if cfg.Snapshot.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Snapshot.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("redis unavailable at %s, snapshots disabled: %v", cfg.Snapshot.RedisAddr, err)
		} else {
			snaps = snapshot.NewStore(rdb, cfg.Snapshot.TTL)
		}
	}

	if cfg.Relay.Enabled {
		rl := relay.New(&cfg.Relay)
		if err := rl.Connect(); err != nil {
			log.Printf("relay connect: %v (feed mirror disabled)", err)
		} else {
			rl.Attach(bus)
			defer rl.Close()
			log.Printf("relay mirroring feed to %s via %s", cfg.Relay.Topic, cfg.Relay.Backend)
		}
	}

	router, stopRouter := www.NewRouter(&cfg.Web, db, builder, bus, snaps)
	defer stopRouter()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("lastmiled listening addr=%s db=%s", addr, cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// seedOperator creates an initial operator account from the environment when
// the table is empty, so a fresh install can log in.
func seedOperator(db *store.DB) {
	n, err := db.CountOperators()
	if err != nil || n > 0 {
		return
	}
	user := os.Getenv("OPERATOR_USER")
	pass := os.Getenv("OPERATOR_PASS")
	if user == "" || pass == "" {
		log.Println("no operators exist; set OPERATOR_USER and OPERATOR_PASS to seed one")
		return
	}
	if err := db.CreateOperator(user, pass); err != nil {
		log.Printf("seed operator: %v", err)
		return
	}
	log.Printf("seeded operator %s", user)
}
