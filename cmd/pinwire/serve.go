package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pinwire"
	"pkt.systems/pinwire/internal/appconfig"
	"pkt.systems/pslog"
)

const serveBanner = `
        _
  _ __ (_)_ __ __      __(_)_ __ ___
 | '_ \| | '_ \\ \ /\ / /| | '__/ _ \
 | |_) | | | | |\ V  V / | | | |  __/
 | .__/|_|_| |_| \_/\_/  |_|_|  \___|
 |_|
`

func newServeCmd() *cobra.Command {
	var cfgPath string
	var disableRequestLogs bool
	var noBanner bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pinwire coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			logMode := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_MODE")))
			if !noBanner && logMode != "json" && logMode != "structured" {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), serveBanner)
			}
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if disableRequestLogs {
				cfg.Logging.DisableRequestLogs = true
			}

			serverCfg := pinwire.ServerConfigFromApp(cfg)
			serverCfg.HubHistory = 1000
			server, err := pinwire.New(serverCfg, pinwire.ServerDeps{Logger: logger})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr, "store", serverCfg.Store.Engine)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&disableRequestLogs, "disable-request-logs", false, "disable HTTP request logging")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "disable startup banner")
	return cmd
}
