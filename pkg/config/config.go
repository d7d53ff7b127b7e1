package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/unitsync/unitsync/pkg/util"
)

// Version is set at build time.
var Version = "dev"

// Config holds application-wide configuration.
type Config struct {
	AWS         AWSConfig         `mapstructure:"aws"`
	Destination DestinationConfig `mapstructure:"destination"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Sync        SyncConfig        `mapstructure:"sync"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
	// Endpoint overrides the AWS endpoint, for local stacks.
	Endpoint string `mapstructure:"endpoint"`
}

type DestinationConfig struct {
	Table          string        `mapstructure:"table"`
	SoftDelete     bool          `mapstructure:"softDelete"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	AttemptTimeout time.Duration `mapstructure:"attemptTimeout"`
}

// PolicyConfig locates the transformation policy profile in the
// configuration service.
type PolicyConfig struct {
	Application  string        `mapstructure:"application"`
	Environment  string        `mapstructure:"environment"`
	Profile      string        `mapstructure:"profile"`
	FetchTimeout time.Duration `mapstructure:"fetchTimeout"`
}

type SyncConfig struct {
	Workers int `mapstructure:"workers"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("aws.region", util.GetEnvOrDefault("AWS_REGION", "us-east-1"))
	v.SetDefault("destination.maxAttempts", 4)
	v.SetDefault("destination.attemptTimeout", 2*time.Second)
	v.SetDefault("policy.fetchTimeout", 5*time.Second)
	v.SetDefault("sync.workers", 4)
}

// Load reads config from file or environment.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	defaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("unitsync")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("UNITSYNC")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}
