package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"envelope.lock/config"
	"envelope.lock/internal/api"
	"envelope.lock/internal/engine"
	"envelope.lock/internal/ledger"
	"envelope.lock/internal/relay"
	"envelope.lock/internal/store"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config error:", err)
	}

	st := initStore(cfg)
	defer st.Close()

	lg := ledger.New()
	lg.Seed(cfg.Ledger.Accounts)

	eng := engine.New(st, lg, engine.FeePolicy{
		Mode: engine.FeeMode(cfg.Protocol.FeeMode),
		Fee:  cfg.Protocol.Fee,
	})

	rel := relay.New(eng, cfg.Protocol.QueueSize, cfg.Protocol.SubmissionTimeout)
	defer rel.Close()

	router := api.SetupRouter(eng, rel, cfg)

	log.Printf("Server starting on %s", cfg.Addr())
	log.Printf("Store: %s", cfg.Store.Type)
	log.Printf("Fee mode: %s", cfg.Protocol.FeeMode)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}

func initStore(cfg *config.Config) store.Store {
	switch cfg.Store.Type {
	case "redis":
		st, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			log.Fatal("redis connection failed:", err)
		}
		return st
	case "badger":
		st, err := store.NewBadgerStore(cfg.Store.Badger.Dir)
		if err != nil {
			log.Fatal("badger open failed:", err)
		}
		return st
	default:
		return store.NewMemoryStore()
	}
}
