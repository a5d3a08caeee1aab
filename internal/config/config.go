package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Mode      string   `mapstructure:"mode"`
	Port      int      `mapstructure:"port"`
	SignalURL string   `mapstructure:"signal_url"`
	Room      string   `mapstructure:"room"`
	Pseudo    string   `mapstructure:"pseudo"`
	AudioFile string   `mapstructure:"audio_file"`
	RecordDir string   `mapstructure:"record_dir"`
	StunURLs  []string `mapstructure:"stun_urls"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("room", "main")
	v.SetDefault("pseudo", "guest")
	v.SetDefault("audio_file", "./audio.ogg")
	v.SetDefault("record_dir", "./recordings")
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
