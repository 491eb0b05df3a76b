package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/config"
	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/notification"
	"github.com/d60-Lab/localsync/internal/repository"
	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "kvinspect",
	Short: "Inspect the localsync key-value store",
	Long: `kvinspect opens the storage backend selected by the localsync configuration
(config.yaml / LOCALSYNC_* env) and reports keys, sizes and notification activity.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("driver", "d", "", "override storage.driver")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	keysCmd.Flags().IntP("limit", "n", 50, "max keys to print (0 = all)")
	watchCmd.Flags().Int("prune-threshold", 0, "override notification.seen_prune_threshold")
	watchCmd.Flags().Bool("log-alerts", false, "write alerts to the structured log instead of stdout")

	rootCmd.AddCommand(statsCmd, keysCmd, watchCmd)
}

// openStore 按配置打开后端；调用方负责关闭返回的 KVRepository
func openStore(cmd *cobra.Command) (*config.Config, repository.KVRepository, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if d, _ := cmd.Flags().GetString("driver"); d != "" {
		cfg.Storage.Driver = d
	}
	lvl := "warn"
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		lvl = "debug"
	}
	if err := logger.Init(lvl, true); err != nil {
		return nil, nil, nil, err
	}
	kv, err := repository.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, kv, store.New(kv), nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print key count, size and per-collection record counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, kv, st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer kv.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("driver=%s\n", cfg.Storage.Driver)
		fmt.Print(stats.String())
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys [prefix]",
	Short: "List raw keys, optionally under a prefix such as chats:alice:",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, kv, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer kv.Close()

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")

		keys, err := kv.Keys(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		sort.Strings(keys)
		vals, err := kv.MultiGet(cmd.Context(), keys)
		if err != nil {
			return err
		}

		byCollection := map[model.Collection]int{}
		other := 0
		for i, raw := range keys {
			if k, ok := store.ParseKey(raw); ok {
				byCollection[k.Collection]++
			} else {
				other++
			}
			if limit == 0 || i < limit {
				fmt.Printf("%s\t%s\n", raw, humanize.Bytes(uint64(len(vals[i]))))
			}
		}
		if limit > 0 && len(keys) > limit {
			fmt.Printf("... %s more\n", humanize.Comma(int64(len(keys)-limit)))
		}

		fmt.Printf("\ntotal=%s", humanize.Comma(int64(len(keys))))
		for _, c := range model.Collections() {
			if n := byCollection[c]; n > 0 {
				fmt.Printf(" %s=%d", c, n)
			}
		}
		if other > 0 {
			fmt.Printf(" other=%d", other)
		}
		fmt.Println()
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <user-id>",
	Short: "Run the notification listener for a user and log each new alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, kv, st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer kv.Close()

		threshold := cfg.Notification.SeenPruneThreshold
		if n, _ := cmd.Flags().GetInt("prune-threshold"); n > 0 {
			threshold = n
		}

		pipeline := notification.NewPipeline(st, nil)
		var alerter notification.Alerter = notification.NopAlerter{}
		toLog, _ := cmd.Flags().GetBool("log-alerts")
		switch {
		case cfg.Notification.Alerts && toLog:
			_ = logger.SetLevel("info")
			alerter = notification.LogAlerter{}
		case cfg.Notification.Alerts:
			alerter = notification.AlerterFunc(func(_ context.Context, n model.Notification, _ model.NotificationSettings) error {
				fmt.Printf("%s\t%s\t%s\t%s\n", humanize.Time(time.UnixMilli(n.Timestamp)), n.Type, n.Title, n.Body)
				return nil
			})
		}
		listener := notification.NewListener(pipeline, alerter,
			notification.WithListenerPolling(nil, cfg.Notification.ListenerInterval),
			notification.WithPruneThreshold(threshold))

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		stop := listener.Start(ctx, args[0])
		defer stop()
		logger.Info("listening", zap.String("user", args[0]), zap.Duration("interval", cfg.Notification.ListenerInterval))
		<-ctx.Done()
		return nil
	},
}
