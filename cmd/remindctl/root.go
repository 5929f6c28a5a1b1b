package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/rule"
)

// app carries the resolved settings shared by every command.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	now     func() time.Time
}

// settings lists every key remindctl reads, in display order.
var settings = []string{"server", "auth", "tz", "locale", "now"}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), now: time.Now}

	root := &cobra.Command{
		Use:   "remindctl",
		Short: "remindctl - inspect schedule rules and manage reminders",
		Long: `remindctl checks, evaluates and describes schedule rules offline, and
manages the reminders of one account on a reminders server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.remindctl.yaml)")
	flags.String("server", "", "reminders API base URL, e.g. https://host/v1")
	flags.String("auth", "", "Telegram init data or a full Authorization header value")
	flags.String("tz", "UTC", "IANA time zone rules are read in")
	flags.String("locale", humanize.DefaultLocale, "language of descriptions")
	flags.String("now", "", "reference instant, RFC 3339 (default: current time)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log API requests to stderr")

	for _, key := range settings {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		a.validateCmd(),
		a.nextCmd(),
		a.describeCmd(),
		a.listCmd(),
		a.getCmd(),
		a.createCmd(),
		a.editCmd(),
		a.statusCmd("pause", "Pause an active reminder", reminders.OpPause),
		a.statusCmd("activate", "Activate a paused reminder", reminders.OpActivate),
		a.statusCmd("draft", "Convert an ended reminder back to a draft", reminders.OpDraft),
		a.deleteCmd(),
		a.exportCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			a.v.AddConfigPath(home)
		}
		a.v.SetConfigName(".remindctl")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("REMINDCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) location() (*time.Location, error) {
	tz := a.v.GetString("tz")
	loc, err := rule.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q", tz)
	}
	return loc, nil
}

func (a *app) reference() (time.Time, error) {
	s := a.v.GetString("now")
	if s == "" {
		return a.now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now: %w", err)
	}
	return t, nil
}

func (a *app) translator() *humanize.Locale {
	return humanize.LoadOrDefault(a.v.GetString("locale"))
}

func (a *app) client() (*reminders.Client, error) {
	server := a.v.GetString("server")
	if server == "" {
		return nil, errors.New("no server configured: pass --server or set REMINDCTL_SERVER")
	}
	log := zap.NewNop()
	if a.verbose {
		dev, err := zap.NewDevelopment()
		if err == nil {
			log = dev
		}
	}
	return reminders.NewClient(server, a.v.GetString("auth"), reminders.WithLogger(log)), nil
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := yaml.Node{Kind: yaml.MappingNode}
			for _, key := range settings {
				value := a.v.GetString(key)
				if key == "auth" && value != "" {
					value = "<redacted>"
				}
				out.Content = append(out.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: key},
					&yaml.Node{Kind: yaml.ScalarNode, Value: value},
				)
			}
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", filepath.Clean(used))
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(&out)
		},
	}
}
