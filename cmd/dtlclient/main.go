// Command dtlclient is the NAT-side Client (spec §1): it dials the Host,
// authenticates against one resource, and forwards dial-backs to a local
// application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dtltunnel/internal/client"
	"dtltunnel/internal/conf"
	"dtltunnel/internal/flog"
)

var (
	appType         string
	appHost         string
	appPort         int
	appSSL          bool
	appSSLUnsafe    bool
	appAuth         string
	serverHost      string
	serverTarget    string
	serverAuth      string
	serverSSL       bool
	serverSSLUnsafe bool
	bridgePort      int
	pools           int
	configPath      string
	logLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "dtlclient",
	Short: "Reverse tunnel Client",
	Long:  "dtlclient authenticates one resource against a dtlhost and forwards dial-backs to a local application.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&appType, "appType", "", "tcp|http|udp")
	rootCmd.Flags().StringVar(&appHost, "appHost", "127.0.0.1", "local application host")
	rootCmd.Flags().IntVar(&appPort, "appPort", 0, "local application port")
	rootCmd.Flags().BoolVar(&appSSL, "appSSL", false, "wrap the local application connection in TLS")
	rootCmd.Flags().BoolVar(&appSSLUnsafe, "appSSLUnsafe", false, "skip certificate verification for --appSSL")
	rootCmd.Flags().StringVar(&appAuth, "appAuth", "", "admit_secret advertised to external callers (empty disables admission control)")

	rootCmd.Flags().StringVar(&serverHost, "serverHost", "", "dtlhost bridge address")
	rootCmd.Flags().StringVar(&serverTarget, "serverTarget", "", "resource connector (port for tcp/udp, hostname for http)")
	rootCmd.Flags().StringVar(&serverAuth, "serverAuth", "", "resource secret")
	rootCmd.Flags().BoolVar(&serverSSL, "serverSSL", false, "wrap the bridge connection in TLS")
	rootCmd.Flags().BoolVar(&serverSSLUnsafe, "serverSSLUnsafe", false, "skip certificate verification for --serverSSL")
	rootCmd.Flags().IntVar(&bridgePort, "bridgePort", 9000, "dtlhost bridge port")
	rootCmd.Flags().IntVar(&pools, "pools", 1, "desired UDP pool size (minimum 1 for udp)")

	rootCmd.Flags().StringVar(&configPath, "config", "", "optional YAML config overlay")
	rootCmd.Flags().StringVar(&logLevel, "logLevel", "", "debug|info|warn|error (default info)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dtlclient: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := &conf.ClientConf{
		AppType:      appType,
		AppHost:      appHost,
		AppPort:      appPort,
		AppSSL:       conf.TLS{Enabled: appSSL, Insecure: appSSLUnsafe},
		AppAuth:      appAuth,
		ServerHost:   serverHost,
		ServerTarget: serverTarget,
		ServerAuth:   serverAuth,
		ServerSSL:    conf.TLS{Enabled: serverSSL, Insecure: serverSSLUnsafe},
		BridgePort:   bridgePort,
		Pools:        pools,
	}
	if configPath != "" {
		fileCfg, err := conf.LoadClientFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = fileCfg
		applyClientFlagOverrides(cmd, cfg)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Finalize(); err != nil {
		return err
	}

	flog.SetLevel(levelFromString(cfg.Log.Level))
	flog.Infof("connecting to %s:%d for resource %s:%s", cfg.ServerHost, cfg.BridgePort, cfg.AppType, cfg.ServerTarget)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	t := client.New(cfg)
	err := t.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("tunnel terminated: %w", err)
	}
	return nil
}

// applyClientFlagOverrides lets explicitly-passed CLI flags win over a
// loaded config file, mirroring dtlhost's precedence rule.
func applyClientFlagOverrides(cmd *cobra.Command, cfg *conf.ClientConf) {
	flags := cmd.Flags()
	if flags.Changed("appType") {
		cfg.AppType = appType
	}
	if flags.Changed("appHost") {
		cfg.AppHost = appHost
	}
	if flags.Changed("appPort") {
		cfg.AppPort = appPort
	}
	if flags.Changed("appSSL") || flags.Changed("appSSLUnsafe") {
		cfg.AppSSL = conf.TLS{Enabled: appSSL, Insecure: appSSLUnsafe}
	}
	if flags.Changed("appAuth") {
		cfg.AppAuth = appAuth
	}
	if flags.Changed("serverHost") {
		cfg.ServerHost = serverHost
	}
	if flags.Changed("serverTarget") {
		cfg.ServerTarget = serverTarget
	}
	if flags.Changed("serverAuth") {
		cfg.ServerAuth = serverAuth
	}
	if flags.Changed("serverSSL") || flags.Changed("serverSSLUnsafe") {
		cfg.ServerSSL = conf.TLS{Enabled: serverSSL, Insecure: serverSSLUnsafe}
	}
	if flags.Changed("bridgePort") {
		cfg.BridgePort = bridgePort
	}
	if flags.Changed("pools") {
		cfg.Pools = pools
	}
}

func levelFromString(s string) int {
	switch s {
	case "debug":
		return int(flog.Debug)
	case "warn":
		return int(flog.Warn)
	case "error":
		return int(flog.Error)
	default:
		return int(flog.Info)
	}
}
