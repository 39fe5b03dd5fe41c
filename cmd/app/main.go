// Command app runs the FundGuard risk service.
package main

import (
	"flag"
	"log"
	"os"

	"FundGuard/internal/di"
	"FundGuard/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", *configPath, err)
	}
	log.Printf("fundguard starting env=%s audit_backend=%s kafka=%t redis=%t queue=%t",
		cfg.Environment, cfg.Backend.Type, cfg.Kafka.Enabled, cfg.Redis.Enabled, cfg.Queue.Enabled)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("wire app: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Printf("fundguard stopped with error: %v", err)
		os.Exit(1)
	}
}
