package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LAMBDAOPS"

// FileName is the config file base name searched for by Load.
const FileName = "lambdaops"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// EnvSpec maps an environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
	v.SetDefault("logging.file", "")

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.force_path_style", false)

	v.SetDefault("emptier.batch_size", 1000)
	v.SetDefault("emptier.rate_limit", 0)

	v.SetDefault("relay.default_url", "https://httpbin.org/json")
	v.SetDefault("relay.timeout", "10s")
	v.SetDefault("relay.preview_chars", 500)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("metrics.enabled", true)
}

// Load builds the configuration from defaults, the first lambdaops.yaml found
// in the working directory or $XDG_CONFIG_HOME/lambdaops, the environment and
// overrides (nested maps, later maps win).
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return load(ctx, "", overrides)
}

// LoadFile is Load with an explicit config file, which must exist.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path is empty")
	}
	return load(ctx, path, overrides)
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func load(ctx context.Context, path string, overrides []map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		for _, dir := range getUserConfigPaths() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// getUserConfigPaths lists directories searched for lambdaops.yaml, in order.
func getUserConfigPaths() []string {
	paths := []string{"."}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, FileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", FileName))
	}
	return paths
}

// getEnvSpecs returns the short environment aliases. Every key is also
// reachable through its full name, e.g. LAMBDAOPS_SERVER_PORT.
func getEnvSpecs() []EnvSpec {
	aliases := []EnvSpec{
		{Name: "LOG_LEVEL", Path: "logging.level"},
		{Name: "LOG_FORMAT", Path: "logging.format"},
		{Name: "HOST", Path: "server.host"},
		{Name: "PORT", Path: "server.port"},
		{Name: "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: "METRICS_ENABLED", Path: "metrics.enabled"},
		{Name: "DEFAULT_URL", Path: "relay.default_url"},
		{Name: "RELAY_TIMEOUT", Path: "relay.timeout"},
		{Name: "BATCH_SIZE", Path: "emptier.batch_size"},
		{Name: "RATE_LIMIT", Path: "emptier.rate_limit"},
	}

	specs := make([]EnvSpec, 0, len(aliases))
	for _, a := range aliases {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + a.Name, Path: a.Path})
	}
	return specs
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
