package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Empty GATEWAY_URL skips the suites, a master must be running
	GatewayURL string `envconfig:"GATEWAY_URL"`
	HealthAddr string `envconfig:"HEALTH_ADDR" default:"localhost:50051"`
	Secret     string `envconfig:"JWT_SECRET"`
	RoomID     int    `envconfig:"E2E_ROOM" default:"1"`
	// E2E_DEBUG_JSON dumps every frame and gRPC response as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	Colours   bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
