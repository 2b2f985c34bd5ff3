package config

import (
	"flag"
	"fmt"
)

const HelpMessage = `
Dispatch service.

Usage:
  dispatch [-config-path config.yaml]

Configuration is read from the YAML file, then overridden by environment
variables (DATABASE_*, REDIS_*, RABBITMQ_*, SERVER_*, DISPATCH_*, TRACKING_*).
`

func PrintHelp() {
	if HelpMessage != "" {
		fmt.Printf("%s", HelpMessage)
	} else {
		flag.Usage()
	}
}

// PrintConfig prints the effective non-secret configuration on startup.
func PrintConfig(cfg *Config) {
	fmt.Printf("mode:            %s\n", cfg.Mode)
	fmt.Printf("server port:     %s\n", cfg.Server.Port)
	fmt.Printf("database:        %s:%s/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	fmt.Printf("redis:           %s\n", cfg.Redis.GetAddr())
	fmt.Printf("rabbitmq:        %s:%s\n", cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)
	fmt.Printf("dispatch workers:%d\n", cfg.Dispatch.Workers)
}
