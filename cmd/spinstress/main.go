// Command spinstress runs contention workloads against the spinlock and
// guarded cells and checks their invariants.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/go-ricrob/spinmutex/internal/stress"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "spinstress",
	Short: "Stress test the spinlock mutex",
	Long: `spinstress runs workloads with many goroutines contending for guarded
cells and fails when an invariant of the lock does not hold: lost updates,
double releases, missing progress or a non linearizable history.

Settings are read from flags, SPINSTRESS_* environment variables and an
optional config file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	def := stress.DefaultConfig()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.IntP("workers", "w", def.Workers, "number of concurrent workers")
	flags.IntP("iterations", "i", def.Iterations, "operations per worker and round")
	flags.IntP("rounds", "r", def.Rounds, "number of rounds")
	flags.IntP("keys", "k", def.Keys, "key space of the partmap workload")
	flags.IntP("parts", "p", def.Parts, "partitions of the partmap workload")
	flags.DurationP("timeout", "t", def.Timeout, "deadline of a run, 0 for none")
	flags.Int64("seed", def.Seed, "random seed")
	flags.String("log-level", logrus.InfoLevel.String(), "log level")
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("spinstress")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, name := range stress.Names() {
		rootCmd.AddCommand(workloadCmd(name))
	}
	rootCmd.AddCommand(allCmd)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		logrus.WithField("file", viper.ConfigFileUsed()).Debug("config loaded")
	}

	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

func config() stress.Config {
	cfg := stress.DefaultConfig()
	cfg.Workers = viper.GetInt("workers")
	cfg.Iterations = viper.GetInt("iterations")
	cfg.Rounds = viper.GetInt("rounds")
	cfg.Keys = viper.GetInt("keys")
	cfg.Parts = viper.GetInt("parts")
	cfg.Timeout = viper.GetDuration("timeout")
	cfg.Seed = viper.GetInt64("seed")
	cfg.Logger = logrus.StandardLogger()
	return cfg
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
