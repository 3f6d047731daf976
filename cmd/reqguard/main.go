/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command reqguard serves the returns API of the storefront behind rate limiting and idempotent replay.
package main

import (
	"context"
	"flag"
	"fmt"
	golog "log"

	"github.com/acronis/go-reqguard/config"
	"github.com/acronis/go-reqguard/httpserver"
	"github.com/acronis/go-reqguard/idempotency"
	"github.com/acronis/go-reqguard/internal/redisconn"
	"github.com/acronis/go-reqguard/log"
	"github.com/acronis/go-reqguard/profserver"
	"github.com/acronis/go-reqguard/ratelimit"
	"github.com/acronis/go-reqguard/service"
)

const envVarsPrefix = "REQGUARD"

func main() {
	cfgPath := flag.String("config", "config.yml", "path to the YAML or JSON configuration file (empty to use defaults and env)")
	flag.Parse()

	if err := runApp(*cfgPath); err != nil {
		golog.Fatal(err)
	}
}

func runApp(cfgPath string) error {
	cfg, err := loadAppConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	app, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return service.New(logger, app.Unit()).Start()
}

func loadAppConfig(cfgPath string) (*AppConfig, error) {
	cfg := NewAppConfig()
	return cfg, config.NewDefaultLoader(envVarsPrefix).Load(cfgPath, cfg.Server, cfg.configs()...)
}

// AppConfig groups configurations of all reqguard parts.
type AppConfig struct {
	Server      *httpserver.Config
	Log         *log.Config
	RateLimit   *ratelimit.Config
	Idempotency *idempotency.Config
	Redis       *redisconn.Config
	ProfServer  *profserver.Config
}

// NewAppConfig creates an AppConfig with the default key prefixes.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Server:      httpserver.NewConfig(),
		Log:         log.NewConfig(),
		RateLimit:   ratelimit.NewConfig(),
		Idempotency: idempotency.NewConfig(),
		Redis:       redisconn.NewConfig(),
		ProfServer:  profserver.NewConfig(),
	}
}

// configs returns all configurations except Server.
func (c *AppConfig) configs() []config.Config {
	return []config.Config{c.Log, c.RateLimit, c.Idempotency, c.Redis, c.ProfServer}
}

func (c *AppConfig) usesRedis() bool {
	return c.RateLimit.Backend == ratelimit.BackendRedis || c.Idempotency.Backend == idempotency.BackendRedis
}
