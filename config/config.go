// config/config.go
package config

import (
	"time"

	"party-matchmaking/utils"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// Config is the service configuration, read from the environment.
type Config struct {
	DatabaseURL  string `env:"DATABASE_URL,required,notEmpty"`
	Port         int    `env:"PORT" envDefault:"5200"`
	ServiceToken string `env:"GAME_SERVICE_TOKEN,required,notEmpty"`

	RedisAddress  string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	EnforcementURL  string        `env:"ENFORCEMENT_URL"`
	MatchServiceURL string        `env:"MATCH_SERVICE_URL"`
	SyncServiceURL  string        `env:"SYNC_SERVICE_URL"`
	AuthServiceURL  string        `env:"AUTH_SERVICE_URL"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	TicketTTL          time.Duration `env:"TICKET_TTL" envDefault:"2m"`
	PairingAttempts    int           `env:"PAIRING_ATTEMPTS" envDefault:"2"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	FriendSyncInterval time.Duration `env:"FRIEND_SYNC_INTERVAL" envDefault:"1m"`
	LeaderSuccession   bool          `env:"PARTY_LEADER_SUCCESSION" envDefault:"false"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	CloudflareAccountID string `env:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID       string `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret   string `env:"R2_ACCESS_KEY_SECRET"`
	R2BucketName        string `env:"R2_BUCKET_NAME"`
	CDNBaseURL          string `env:"CDN_BASE_URL"`
}

// Load parses the environment into a Config and checks the values that have a valid range.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, eris.Wrap(err, "parse env")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TicketTTL <= 0 {
		return eris.Errorf("TICKET_TTL must be positive, got %s", c.TicketTTL)
	}
	if c.PairingAttempts < 1 {
		return eris.Errorf("PAIRING_ATTEMPTS must be at least 1, got %d", c.PairingAttempts)
	}
	if c.SweepInterval <= 0 {
		return eris.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	return nil
}

// R2 returns the archive bucket settings.
func (c Config) R2() utils.R2Config {
	return utils.R2Config{
		AccountID:       c.CloudflareAccountID,
		AccessKeyID:     c.R2AccessKeyID,
		AccessKeySecret: c.R2AccessKeySecret,
		Bucket:          c.R2BucketName,
		CDNBaseURL:      c.CDNBaseURL,
	}
}
