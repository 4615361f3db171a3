package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/zhenchat/pkg/client"
	"github.com/go-go-golems/zhenchat/pkg/logging"
	"github.com/go-go-golems/zhenchat/pkg/session"
	"github.com/go-go-golems/zhenchat/pkg/stream"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "zhenchat"

// Settings is the resolved configuration of the zhenchat client.
type Settings struct {
	BaseURL       string        `yaml:"base-url"`
	Token         string        `yaml:"token,omitempty"`
	TokenFile     string        `yaml:"token-file,omitempty"`
	Timeout       time.Duration `yaml:"timeout"`
	AllowInsecure bool          `yaml:"allow-insecure"`

	FallbackMessage    string `yaml:"fallback-message"`
	ThinkingMessage    string `yaml:"thinking-message"`
	ReconcileAfterSend bool   `yaml:"reconcile-after-send"`

	LogLevel   string `yaml:"log-level"`
	LogFormat  string `yaml:"log-format,omitempty"`
	LogFile    string `yaml:"log-file,omitempty"`
	WithCaller bool   `yaml:"with-caller"`
}

// AddFlags registers the persistent flags every command understands.
func AddFlags(flags *pflag.FlagSet) {
	flags.String("base-url", "http://localhost:8000/api/v1", "Base URL of the consultation backend")
	flags.String("token", "", "Bearer token")
	flags.String("token-file", "", "File holding the bearer token, read on every request")
	flags.Duration("timeout", client.DefaultTimeout, "Timeout of directory calls and of the wait for a stream to start")
	flags.Bool("allow-insecure", true, "Allow plain http and local network base URLs")

	flags.String("fallback-message", session.DefaultFallbackMessage, "Answer shown when a send fails")
	flags.String("thinking-message", stream.DefaultThinkingMessage, "Status shown while the assistant thinks without saying what")
	flags.Bool("reconcile-after-send", false, "Reload the history after every successful answer")

	flags.Bool("with-caller", false, "Log caller")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "", "Log format (json, text), text on a terminal by default")
	flags.String("log-file", "", "Log file (default: stderr)")
	flags.String("config", "", "Path to config file (default ~/.zhenchat/config.yaml)")
}

// InitViper reads the config file and the environment into v and binds flags.
// A missing config file is not an error.
func InitViper(v *viper.Viper, configFile string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(EnvPrefix)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.zhenchat")
		v.AddConfigPath("/etc/zhenchat")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			v.AddConfigPath(xdgConfigPath + "/zhenchat")
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// Config file not found; ignore error
	} else if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return errors.Wrap(err, "binding flags")
		}
	}
	return nil
}

// FromViper resolves Settings from v.
func FromViper(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		BaseURL:       v.GetString("base-url"),
		Token:         v.GetString("token"),
		TokenFile:     v.GetString("token-file"),
		Timeout:       v.GetDuration("timeout"),
		AllowInsecure: v.GetBool("allow-insecure"),

		FallbackMessage:    v.GetString("fallback-message"),
		ThinkingMessage:    v.GetString("thinking-message"),
		ReconcileAfterSend: v.GetBool("reconcile-after-send"),

		LogLevel:   v.GetString("log-level"),
		LogFormat:  v.GetString("log-format"),
		LogFile:    v.GetString("log-file"),
		WithCaller: v.GetBool("with-caller"),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.BaseURL == "" {
		return errors.New("base-url is required")
	}
	if s.Timeout < 0 {
		return errors.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	if s.Token != "" && s.TokenFile != "" {
		return errors.New("token and token-file are mutually exclusive")
	}
	return nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// Redacted returns a copy safe to print.
func (s *Settings) Redacted() *Settings {
	ret := s.Clone()
	if ret.Token != "" {
		ret.Token = "***"
	}
	return ret
}

func (s *Settings) LoggingConfig() *logging.Config {
	return &logging.Config{
		WithCaller: s.WithCaller,
		Level:      s.LogLevel,
		LogFormat:  s.LogFormat,
		LogFile:    s.LogFile,
	}
}

// Identity returns the credential source described by token or token-file.
func (s *Settings) Identity() client.IdentityProvider {
	if s.TokenFile != "" {
		return client.FileIdentity{Path: s.TokenFile}
	}
	return client.StaticIdentity(s.Token)
}

func (s *Settings) NewClient() (*client.Client, error) {
	return client.New(s.BaseURL,
		client.WithTimeout(s.Timeout),
		client.WithAllowInsecure(s.AllowInsecure),
		client.WithIdentity(s.Identity()),
	)
}

// StoreOptions turns the answer related settings into session store options.
func (s *Settings) StoreOptions() []session.Option {
	return []session.Option{
		session.WithFallbackMessage(s.FallbackMessage),
		session.WithThinkingMessage(s.ThinkingMessage),
		session.WithReconcileAfterSend(s.ReconcileAfterSend),
	}
}
