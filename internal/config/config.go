package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the run configuration. Every field has a built-in default and
// can be overridden by the config file, the environment, or a CLI flag.
type Config struct {
	// ImbalanceAc is the account-name pattern a fix account must match.
	ImbalanceAc string `mapstructure:"imbalance_ac"`
	// OffsetAc guards reassignment on the counter split's account name.
	OffsetAc string `mapstructure:"offset_ac"`
	// UseMemo matches rules against the split memo instead of the
	// transaction description.
	UseMemo bool `mapstructure:"use_memo"`
	// LogLevel is a logrus level name.
	LogLevel string `mapstructure:"log_level"`
	// BackupDir receives book backups; empty means next to the book.
	BackupDir string `mapstructure:"backup_dir"`
	// IgnoreLock opens the book even when another session holds its lock.
	IgnoreLock bool `mapstructure:"ignore_lock"`
}

// Load reads configuration from file and env. Env var overrides use prefix
// FIXIMPORTS_; the file is $FIXIMPORTS_CONFIG or
// ~/.config/fiximports/config.toml.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("imbalance_ac", "(.)*")
	v.SetDefault("offset_ac", "(.)*")
	v.SetDefault("use_memo", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("backup_dir", "")
	v.SetDefault("ignore_lock", false)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("FIXIMPORTS_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "fiximports"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FIXIMPORTS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
