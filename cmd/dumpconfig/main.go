package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/providers"
)

func main() {
	configFile := flag.String("config", "", "path to lifehub.yaml")
	envFile := flag.String("env-file", "", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Providers.OpenAIKey = redact(cfg.Providers.OpenAIKey)
	cfg.Providers.AnthropicKey = redact(cfg.Providers.AnthropicKey)
	cfg.Webhook.OpenAISecret = redact(cfg.Webhook.OpenAISecret)
	cfg.Images.EncryptionKey = redact(cfg.Images.EncryptionKey)
	cfg.Images.S3.SecretAccessKey = redact(cfg.Images.S3.SecretAccessKey)

	type providerInfo struct {
		Name         string                 `json:"name"`
		Description  string                 `json:"description"`
		Capabilities []providers.Capability `json:"capabilities"`
	}
	var available []providerInfo
	for _, def := range providers.DefaultDefinitions() {
		available = append(available, providerInfo{Name: def.Name, Description: def.Description, Capabilities: def.Capabilities})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Config    *config.Config `json:"config"`
		Providers []providerInfo `json:"providers"`
	}{cfg, available}); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}
