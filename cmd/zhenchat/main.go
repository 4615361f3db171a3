package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/zhenchat/cmd/zhenchat/cmds"
	"github.com/go-go-golems/zhenchat/pkg/config"
	"github.com/go-go-golems/zhenchat/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "zhenchat",
	Short: "zhenchat talks to a consultation backend and streams its answers",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		return initLogger()
	},
	SilenceUsage: true,
}

func initLogger() error {
	settings, err := config.FromViper(viper.GetViper())
	if err != nil {
		// the logger still has to work for commands like `config show`
		return logging.InitLogger(&logging.Config{
			Level:      viper.GetString("log-level"),
			LogFormat:  viper.GetString("log-format"),
			LogFile:    viper.GetString("log-file"),
			WithCaller: viper.GetBool("with-caller"),
		})
	}
	return logging.InitLogger(settings.LoggingConfig())
}

func initCommands(rootCmd *cobra.Command, configFile string) error {
	err := config.InitViper(viper.GetViper(), configFile, rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	// this still won't pick up on --log-level from the command line, but at
	// least it will configure logging based on the config file
	if err := initLogger(); err != nil {
		return err
	}

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	rootCmd.AddCommand(
		cmds.NewSessionsCommand(),
		cmds.NewHistoryCommand(),
		cmds.NewSendCommand(),
		cmds.NewChatCommand(),
		cmds.NewFactsCommand(),
		cmds.NewConfigCommand(),
	)
	return nil
}

func main() {
	config.AddFlags(rootCmd.PersistentFlags())

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
	}

	err := initCommands(rootCmd, configFile)
	cobra.CheckErr(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
