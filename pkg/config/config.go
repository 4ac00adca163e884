package config

import (
	"os"
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// FileName is the name of the optional config file next to the site file
const FileName = "sitebuild.toml"

// ErrConfig marks configuration errors that are detected before any I/O happens
var ErrConfig = eris.New("configuration error")

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" usage:"Log level (debug, info, warn or error)" toml:"level"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages" toml:"json"`
	} `toml:"log"`
	Server struct {
		Address string `default:"127.0.0.1:3000" usage:"Address the dev server listens on" toml:"address"`
		Base    string `default:"." usage:"Directory served by the dev server, relative to the project root" toml:"base"`
	} `toml:"server"`
	Tools struct {
		Sass         string `default:"sass --no-source-map --style=expanded --load-path=node_modules \"$SRC\"" usage:"Shell command compiling $SRC to stdout" toml:"sass"`
		Autoprefixer string `default:"postcss --use autoprefixer --no-map" usage:"Shell filter applied to the compiled CSS (empty to disable)" toml:"autoprefixer"`
	} `toml:"tools"`
	Deploy DeployConfig `toml:"deploy"`
}

// DeployConfig contains the remote sync settings and one profile per deploy target
type DeployConfig struct {
	Rsync      string   `default:"rsync" usage:"rsync binary" toml:"rsync"`
	Exclude    []string `usage:"Patterns excluded from the sync" toml:"exclude"`
	Staging    Profile  `toml:"staging"`
	Production Profile  `toml:"production"`
}

// Profile is the destination of a deploy target
type Profile struct {
	Hostname    string `usage:"SSH host (empty for a local sync)" toml:"hostname"`
	Username    string `usage:"SSH user" toml:"username"`
	Destination string `usage:"Path the files are uploaded to" toml:"destination"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. Flags are left
// to the CLI; values come from sitebuild.toml in projectRoot (if present) and SITEBUILD_* variables.
func Loader(projectRoot string) (*Config, *aconfig.Loader) {
	files := []string{}
	cfgPath := filepath.Join(projectRoot, FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		files = append(files, cfgPath)
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:        true,
		EnvPrefix:        "SITEBUILD",
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads and validates the configuration for the given project
func Load(projectRoot string) (*Config, error) {
	cfg, loader := Loader(projectRoot)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrapf(err, "failed to load %s", FileName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Wrapf(ErrConfig, "invalid value for log.level: %s", cfg.Log.Level)
	}

	if cfg.Server.Address == "" {
		return eris.Wrap(ErrConfig, "server.address must not be empty")
	}

	if cfg.Tools.Sass == "" {
		return eris.Wrap(ErrConfig, "tools.sass must not be empty")
	}

	if cfg.Deploy.Rsync == "" {
		return eris.Wrap(ErrConfig, "deploy.rsync must not be empty")
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
