// Package config loads termhub's daemon configuration, layering defaults,
// a config file, environment variables, and CLI flags via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "TERMHUB"
	configFileName = "config"
	configFileType = "yaml"
)

// Config holds all daemon configuration.
type Config struct {
	Port            int             `yaml:"port" mapstructure:"port"`
	MultiplexerName string          `yaml:"multiplexer_name" mapstructure:"multiplexer_name"`
	SessionPrefix   string          `yaml:"session_prefix" mapstructure:"session_prefix"`
	DataDir         string          `yaml:"data_dir" mapstructure:"data_dir"`
	Classifier      ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Capture         CaptureConfig    `yaml:"capture" mapstructure:"capture"`
	Hub             HubConfig        `yaml:"hub" mapstructure:"hub"`
	Supervisor      SupervisorConfig `yaml:"supervisor" mapstructure:"supervisor"`
	TLS             TLSConfig        `yaml:"tls" mapstructure:"tls"`
}

// ClassifierConfig tunes the output classifier's timing.
type ClassifierConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ContextWindow int           `yaml:"context_window" mapstructure:"context_window"`
}

// CaptureConfig tunes the per-session screen-capture pipeline.
type CaptureConfig struct {
	Debounce      time.Duration `yaml:"debounce" mapstructure:"debounce"`
	ResizeSettle  time.Duration `yaml:"resize_settle" mapstructure:"resize_settle"`
	LivenessProbe time.Duration `yaml:"liveness_probe" mapstructure:"liveness_probe"`
}

// HubConfig tunes the client hub's connection handling.
type HubConfig struct {
	PingInterval  time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	SendQueueSize int           `yaml:"send_queue_size" mapstructure:"send_queue_size"`
}

// SupervisorConfig tunes the supervisor's restart backoff.
type SupervisorConfig struct {
	QuickDeathThreshold time.Duration `yaml:"quick_death_threshold" mapstructure:"quick_death_threshold"`
	BaseDelay           time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// TLSConfig configures the optional TLS certificate lookup collaborator.
type TLSConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	Hostname    string   `yaml:"hostname" mapstructure:"hostname"`
	CertDirs    []string `yaml:"cert_dirs" mapstructure:"cert_dirs"`
	ACMEEnabled bool     `yaml:"acme_enabled" mapstructure:"acme_enabled"`
}

// Default returns the baseline configuration before any file, env, or flag
// overrides are applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".termhub")
	return &Config{
		Port:            7337,
		MultiplexerName: "tmux",
		SessionPrefix:   "termhub",
		DataDir:         dataDir,
		Classifier: ClassifierConfig{
			IdleTimeout:   3 * time.Second,
			ContextWindow: 10000,
		},
		Capture: CaptureConfig{
			Debounce:      30 * time.Millisecond,
			ResizeSettle:  150 * time.Millisecond,
			LivenessProbe: 5 * time.Second,
		},
		Hub: HubConfig{
			PingInterval:   30 * time.Second,
			RequestTimeout: 10 * time.Second,
			SendQueueSize:  64,
		},
		Supervisor: SupervisorConfig{
			QuickDeathThreshold: 5 * time.Second,
			BaseDelay:           1 * time.Second,
			MaxDelay:            60 * time.Second,
		},
		TLS: TLSConfig{
			CertDirs: []string{
				"/etc/termhub/certs",
				filepath.Join(dataDir, "certs"),
			},
		},
	}
}

// Load builds configuration from Default(), an optional config file
// (the path under the "config" key, else ~/.termhub/config.yaml),
// TERMHUB_* environment variables, and CLI flags already bound to v.
// A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()

	defaultMap, err := structToMap(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := v.MergeConfigMap(defaultMap); err != nil {
		return nil, fmt.Errorf("config: merge defaults: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	path := explicitOrDefaultPath(v)
	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func explicitOrDefaultPath(v *viper.Viper) string {
	if p := v.GetString("config"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".termhub", fmt.Sprintf("%s.%s", configFileName, configFileType))
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func mergeFile(v *viper.Viper, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	fileViper := viper.New()
	fileViper.SetConfigType(configFileType)
	if err := fileViper.ReadConfig(file); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return v.MergeConfigMap(fileViper.AllSettings())
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

func structToMap(cfg *Config) (map[string]any, error) {
	result := make(map[string]any)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  &result,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationToStringHook(),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}
	return result, nil
}

func durationToStringHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if from != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return data.(time.Duration).String(), nil
	}
}

// EnsureDataDir creates the daemon's data directory if missing.
func EnsureDataDir(cfg *Config) error {
	return os.MkdirAll(cfg.DataDir, 0o755)
}

// Watcher reloads configuration whenever the on-disk config file changes,
// debouncing rapid successive writes from editors that rewrite-then-rename.
type Watcher struct {
	path     string
	v        *viper.Viper
	watcher  *fsnotify.Watcher
	callback func(*Config, error)
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatchFile starts watching path for changes, invoking callback with the
// freshly reloaded Config (or an error) after each debounced change. The
// directory containing path must exist; the file itself need not yet.
func WatchFile(path string, v *viper.Viper, callback func(*Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		v:        v,
		watcher:  fsw,
		callback: callback,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stopCh:
		return
	default:
		close(w.stopCh)
	}
	_ = w.watcher.Close()
	<-w.doneCh
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	fileName := filepath.Base(w.path)
	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(200 * time.Millisecond)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			cfg, err := Load(w.v)
			w.callback(cfg, err)

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
