package cmds

import (
	"context"
	"encoding/json"
	"io"

	"github.com/go-go-golems/zhenchat/pkg/client"
	"github.com/go-go-golems/zhenchat/pkg/config"
	"github.com/go-go-golems/zhenchat/pkg/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// app bundles what a command needs to talk to the backend.
type app struct {
	settings    *config.Settings
	client      *client.Client
	directory   *client.Directory
	completions *client.Completions
}

func newApp() (*app, error) {
	settings, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	c, err := settings.NewClient()
	if err != nil {
		return nil, err
	}
	return &app{
		settings:    settings,
		client:      c,
		directory:   client.NewDirectory(c),
		completions: client.NewCompletions(c),
	}, nil
}

func (a *app) credential(ctx context.Context) (string, error) {
	return a.settings.Identity().Credential(ctx)
}

// newStore creates a session store streaming through the backend, with the
// answer settings applied before options.
func (a *app) newStore(options ...session.Option) *session.Store {
	opts := append(a.settings.StoreOptions(), session.WithHistorySource(a.directory))
	opts = append(opts, options...)
	return session.NewStore(a.completions, opts...)
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "yaml", "Output format (yaml, json)")
}

func printStructured(cmd *cobra.Command, w io.Writer, v interface{}) error {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(v)
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
