package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vidrender/internal/pkg/logger"
)

// cli carries state shared by the subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "vidrender",
		Short:         "Render JSON scenes to video",
		Long:          `vidrender renders a scene document frame by frame on a pool of renderer instances and encodes the frames with ffmpeg.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.vidrender/config.yaml)")
	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "text", "log format: text or json")
	_ = c.v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("log_format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(c.newRenderCmd(), c.newValidateCmd())
	return root
}

// initConfig reads the config file and VIDRENDER_* env vars. A missing
// default config file is not an error.
func (c *cli) initConfig() error {
	c.v.SetEnvPrefix("vidrender")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		return c.v.ReadInConfig()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	c.v.AddConfigPath(filepath.Join(home, ".vidrender"))
	c.v.SetConfigName("config")
	c.v.SetConfigType("yaml")
	if err := c.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

func (c *cli) logger(cmd *cobra.Command) *logger.Logger {
	return logger.New(logger.Config{
		Level:       c.v.GetString("log_level"),
		Format:      c.v.GetString("log_format"),
		Output:      cmd.ErrOrStderr(),
		ServiceName: "vidrender",
	})
}
