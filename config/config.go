// Package config loads the tool's settings with viper from an optional
// yaml file and HMM_ prefixed environment variables.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/spirio-sessions/hmmmusictool/session"
)

// Name of the config file searched in $HMM_CFG_PATH or the working directory
const Name = "hmmmusictool"

// Config is everything the commands need to start
type Config struct {
	Session  session.Config
	Listen   string
	BeatAddr string
	Library  string
	LogLevel string
	LogPath  string
}

// settings mirrors the layout of the config file
type settings struct {
	Session session.Config `mapstructure:"session"`
	Server  struct {
		Listen   string `mapstructure:"listen"`
		BeatAddr string `mapstructure:"beat_addr"`
	} `mapstructure:"server"`
	Library struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"library"`
	Log struct {
		Level string `mapstructure:"level"`
		Path  string `mapstructure:"path"`
	} `mapstructure:"log"`
}

func defaults(v *viper.Viper) {
	d := session.DefaultConfig()
	v.SetDefault("session.train", d.Train)
	v.SetDefault("session.sample_rate", d.SampleRate)
	v.SetDefault("session.nr_samples", d.Samples)
	v.SetDefault("session.window_size", d.WindowSize)
	v.SetDefault("session.quantisation", d.Quantisation)
	v.SetDefault("session.layout", string(d.Layout))
	v.SetDefault("session.train_diy", d.Direct)
	v.SetDefault("session.train_rate", d.TrainRate)
	v.SetDefault("session.files", d.Corpus)
	v.SetDefault("session.init_type", string(d.Init))
	v.SetDefault("session.pretrain", d.Pretrain)
	v.SetDefault("session.weighting", d.Weighting)
	v.SetDefault("session.note_type", string(d.Note))
	v.SetDefault("session.time_type", string(d.Time))
	v.SetDefault("session.triggering", string(d.Triggering))
	v.SetDefault("session.chunking", string(d.Chunking))
	v.SetDefault("session.chunk_tolerance", d.ChunkTolerance)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.beat_addr", "127.0.0.1:9001")
	v.SetDefault("library.path", "models.json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
}

// Load reads file, or hmmmusictool.yaml from the search path when file is
// empty. A missing search path file leaves the defaults in place; a missing
// explicit file is an error. The session options are validated.
func Load(file string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("hmm")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	altPath := os.Getenv("HMM_CFG_PATH")
	if altPath == "" {
		altPath = "."
	}
	v.AddConfigPath(altPath)
	v.SetConfigName(Name)
	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var f settings
	if err := v.Unmarshal(&f); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	c := &Config{
		Session:  f.Session,
		Listen:   f.Server.Listen,
		BeatAddr: f.Server.BeatAddr,
		Library:  f.Library.Path,
		LogLevel: f.Log.Level,
		LogPath:  f.Log.Path,
	}
	if err := c.Session.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
