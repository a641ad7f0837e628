package internal

import (
	"fmt"
	"story-lab/domain"
	"strings"
	"time"
)

type Config struct {
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,default=8080"`
	HealthPort           int           `env:"HEALTH_PORT,default=50051"`
	DebugPort            int           `env:"DEBUG_PORT,default=8081"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	BufferSize           int           `env:"BUFFER_SIZE,default=1024"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s"`
	StoreTimeout         time.Duration `env:"STORE_TIMEOUT,default=2s"`
	PublishTimeout       time.Duration `env:"PUBLISH_TIMEOUT,default=100ms"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=10s"`
	LowCapacityThreshold int           `env:"LOW_CAPACITY_THRESHOLD,default=16"`
	ContinuationTimeout  time.Duration `env:"CONTINUATION_TIMEOUT,default=30s"`
	MoodTimeout          time.Duration `env:"MOOD_TIMEOUT,default=3s"`
	MaxRoomSize          int           `env:"MAX_ROOM_SIZE,default=5"`
	MaxSnippetLength     int           `env:"MAX_SNIPPET_LENGTH,default=100"`
	LateJoinPolicy       string        `env:"LATE_JOIN_POLICY,default=reject"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	JWTSecret            string        `env:"JWT_SECRET,required=true"`
	EngineURL            string        `env:"ENGINE_URL"`
	EngineAPIKey         string        `env:"ENGINE_API_KEY"`
	EngineModel          string        `env:"ENGINE_MODEL,default=gpt-4o-mini"`
	MoodLookupURL        string        `env:"MOOD_LOOKUP_URL"`
	RateLimit            float64       `env:"RATE_LIMIT,default=5"`
	RateBurst            int           `env:"RATE_BURST,default=10"`
	SeedRooms            int           `env:"SEED_ROOMS,default=3"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// Rules builds the room rules and rejects values a room cannot run with.
func (c Config) Rules() (domain.Rules, error) {
	if c.MaxRoomSize < 1 {
		return domain.Rules{}, fmt.Errorf("MAX_ROOM_SIZE must be positive, got %d", c.MaxRoomSize)
	}
	if c.MaxSnippetLength < 1 {
		return domain.Rules{}, fmt.Errorf("MAX_SNIPPET_LENGTH must be positive, got %d", c.MaxSnippetLength)
	}
	policy := domain.LateJoinPolicy(strings.ToLower(c.LateJoinPolicy))
	switch policy {
	case domain.LateJoinReject, domain.LateJoinAllow:
	default:
		return domain.Rules{}, fmt.Errorf("LATE_JOIN_POLICY must be reject or allow, got %q", c.LateJoinPolicy)
	}
	return domain.Rules{
		MaxMembers:       c.MaxRoomSize,
		MaxSnippetLength: c.MaxSnippetLength,
		LateJoin:         policy,
	}, nil
}
