package cmds

import (
	"fmt"
	"os"

	"github.com/go-go-golems/zhenchat/pkg/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var settableKeys = map[string]bool{
	"base-url":             true,
	"token-file":           true,
	"timeout":              true,
	"allow-insecure":       true,
	"fallback-message":     true,
	"thinking-message":     true,
	"reconcile-after-send": true,
	"log-level":            true,
	"log-format":           true,
	"log-file":             true,
	"with-caller":          true,
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration, token redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if f := viper.ConfigFileUsed(); f != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f)
			}
			return printStructured(cmd, cmd.OutOrStdout(), settings.Redacted())
		},
	}
	addOutputFlag(show)

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key in the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if !settableKeys[key] {
				return errors.Errorf("unknown or unsettable key %q", key)
			}

			configFile := viper.ConfigFileUsed()
			if configFile == "" {
				return errors.New("no config file found")
			}

			root, err := readAndParseConfig(configFile)
			if err != nil {
				return err
			}
			setScalar(root, key, value)
			if err := writeConfig(configFile, root); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", key, configFile)
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

// setScalar sets key of the top level mapping of root, keeping comments and
// the order of the other keys.
func setScalar(root *yaml.Node, key string, value string) {
	if root.Kind != yaml.DocumentNode {
		*root = yaml.Node{Kind: yaml.DocumentNode}
	}

	var mapNode *yaml.Node
	if len(root.Content) > 0 && root.Content[0].Kind == yaml.MappingNode {
		mapNode = root.Content[0]
	} else {
		mapNode = &yaml.Node{Kind: yaml.MappingNode}
		root.Content = []*yaml.Node{mapNode}
	}

	valueNode := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
	for i := 0; i < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			mapNode.Content[i+1] = valueNode
			return
		}
	}

	mapNode.Content = append(mapNode.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		valueNode,
	)
}

func readAndParseConfig(configFile string) (*yaml.Node, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	var root yaml.Node
	err = yaml.Unmarshal(data, &root)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return &root, nil
}

func writeConfig(configFile string, root *yaml.Node) error {
	f, err := os.Create(configFile)
	if err != nil {
		return errors.Wrap(err, "error opening config file for writing")
	}
	defer func() {
		_ = f.Close()
	}()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	err = encoder.Encode(root)
	if err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return encoder.Close()
}
