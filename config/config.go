// Package config loads runtime and logging settings from a YAML file and
// FAST_ environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/AustinTapp/FAST"
	"github.com/AustinTapp/FAST/log"
)

// EnvPrefix prefixes environment variables. The key log.level is read
// from FAST_LOG_LEVEL.
const EnvPrefix = "FAST"

const dotEnvFileName = ".env"

// Keys of the configuration file.
const (
	StreamingModeKey   = "streaming_mode"
	QueueDepthKey      = "queue_depth"
	PipelineKey        = "pipeline"
	LogLevelKey        = "log.level"
	LogFormatKey       = "log.format"
	LogFileKey         = "log.file"
	LogMaxAgeKey       = "log.max_age"
	LogRotationTimeKey = "log.rotation_time"
)

// Config holds the loaded settings.
type Config struct {
	Runtime fast.Config
	Log     log.Config
	// Pipeline is the path of the pipeline description.
	Pipeline string
}

// Load reads the file at path and applies environment overrides. An empty
// path loads defaults and environment only. A .env file next to the
// config file is loaded into the environment first.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetDefault(StreamingModeKey, fast.NewestFrameOnly.String())
	vp.SetDefault(QueueDepthKey, fast.DefaultQueueDepth)
	vp.SetDefault(PipelineKey, "")
	vp.SetDefault(LogLevelKey, "")
	vp.SetDefault(LogFormatKey, "text")
	vp.SetDefault(LogFileKey, "")
	vp.SetDefault(LogMaxAgeKey, "7d")
	vp.SetDefault(LogRotationTimeKey, "1d")
	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if path != "" {
		if err := loadDotEnvIfExist(path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", dotEnvFileName, err)
		}
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return decode(vp)
}

func decode(vp *viper.Viper) (*Config, error) {
	mode, err := fast.ParseStreamingMode(vp.GetString(StreamingModeKey))
	if err != nil {
		return nil, err
	}
	depth, err := cast.ToIntE(vp.Get(QueueDepthKey))
	if err != nil {
		return nil, fast.Configurationf("", "invalid %s: %v", QueueDepthKey, err)
	}
	maxAge, err := toDuration(vp.Get(LogMaxAgeKey))
	if err != nil {
		return nil, fast.Configurationf("", "invalid %s: %v", LogMaxAgeKey, err)
	}
	rotation, err := toDuration(vp.Get(LogRotationTimeKey))
	if err != nil {
		return nil, fast.Configurationf("", "invalid %s: %v", LogRotationTimeKey, err)
	}

	c := &Config{
		Runtime: fast.Config{
			StreamingMode: mode,
			QueueDepth:    depth,
		},
		Log: log.Config{
			Level:        vp.GetString(LogLevelKey),
			Format:       vp.GetString(LogFormatKey),
			File:         vp.GetString(LogFileKey),
			MaxAge:       maxAge,
			RotationTime: rotation,
		},
		Pipeline: vp.GetString(PipelineKey),
	}
	if err := c.Runtime.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func loadDotEnvIfExist(path string) error {
	dotEnv := filepath.Join(filepath.Dir(path), dotEnvFileName)
	if _, err := os.Stat(dotEnv); err != nil {
		return nil
	}
	return godotenv.Load(dotEnv)
}

// toDuration accepts durations with a day prefix, like "1d12h".
func toDuration(v interface{}) (time.Duration, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToDurationE(v)
	}
	day, left, found := strings.Cut(s, "d")
	if !found {
		return cast.ToDurationE(s)
	}
	days, err := cast.ToIntE(day)
	if err != nil {
		return 0, err
	}
	d := time.Duration(days) * 24 * time.Hour
	if left == "" {
		return d, nil
	}
	rest, err := cast.ToDurationE(left)
	if err != nil {
		return 0, err
	}
	return d + rest, nil
}
