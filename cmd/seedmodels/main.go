package main

import (
	"context"
	"flag"
	"log"

	"github.com/lentmiien/lentmiien-site-sub001/internal/catalog"
	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/database"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store/postgres"
)

func main() {
	configFile := flag.String("config", "", "path to lifehub.yaml")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.UsesMemory() {
		log.Fatalf("seedmodels needs a postgres database")
	}

	ctx := context.Background()
	if err := database.RunMigrations(ctx, cfg.Database, nil); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	seeded, err := catalog.Seed(ctx, postgres.New(pool), cfg.Models)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	for _, card := range seeded {
		log.Printf("upserted %s (%s, batch=%t, in=%s/M out=%s/M)", card.APIModel, card.Provider, card.BatchUse,
			card.InputCostPerM.String(), card.OutputCostPerM.String())
	}
	log.Printf("seeded %d model card(s)", len(seeded))
}
