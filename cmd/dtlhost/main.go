// Command dtlhost is the publicly reachable Host (spec §1): it accepts
// bridge connections on --tcpPort, virtual-hosted HTTP traffic on
// --httpPort, and optionally serves the resource-code authorization
// endpoint on --webPort.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"dtltunnel/internal/authorizer"
	"dtltunnel/internal/conf"
	"dtltunnel/internal/flog"
	"dtltunnel/internal/listener"
	"dtltunnel/internal/resource"
)

var (
	tcpPort      int
	httpPort     int
	webPort      int
	resourcesCSV string
	configPath   string
	logLevel     string

	sha256gen bool
	genAuth   string
	genSalt   string
)

var rootCmd = &cobra.Command{
	Use:   "dtlhost",
	Short: "Reverse tunnel Host",
	Long:  "dtlhost accepts external traffic on advertised resources and relays it to a bound Client over the bridge protocol.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().IntVar(&tcpPort, "tcpPort", 0, "bridge control port (default 9000, or $TCP_SERVER_PORT)")
	rootCmd.Flags().IntVar(&httpPort, "httpPort", 0, "HTTP host-routing front-end port (default 8000, or $HTTP_SERVER_PORT)")
	rootCmd.Flags().IntVar(&webPort, "webPort", 0, "resource-code authorization endpoint port (0 disables, or $DTL_AUTH_PORT)")
	rootCmd.Flags().StringVar(&resourcesCSV, "resources", "", "resource CSV path (default resources.csv)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "optional YAML config overlay")
	rootCmd.Flags().StringVar(&logLevel, "logLevel", "", "debug|info|warn|error (default info)")

	rootCmd.Flags().BoolVar(&sha256gen, "sha256gen", false, "print sha256(auth+salt) and exit")
	rootCmd.Flags().StringVar(&genAuth, "auth", "", "secret for --sha256gen")
	rootCmd.Flags().StringVar(&genSalt, "salt", "", "salt for --sha256gen")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dtlhost: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if sha256gen {
		if genAuth == "" || genSalt == "" {
			return fmt.Errorf("--sha256gen requires both --auth and --salt")
		}
		fmt.Println(conf.SecretDigestHex(genAuth, genSalt))
		return nil
	}

	cfg := &conf.HostConf{
		TCPPort:      tcpPort,
		HTTPPort:     httpPort,
		WebPort:      webPort,
		ResourcesCSV: resourcesCSV,
	}
	if configPath != "" {
		fileCfg, err := conf.LoadHostFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = fileCfg
		// CLI flags take precedence over the file when explicitly set.
		if cmd.Flags().Changed("tcpPort") {
			cfg.TCPPort = tcpPort
		}
		if cmd.Flags().Changed("httpPort") {
			cfg.HTTPPort = httpPort
		}
		if cmd.Flags().Changed("webPort") {
			cfg.WebPort = webPort
		}
		if cmd.Flags().Changed("resources") {
			cfg.ResourcesCSV = resourcesCSV
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Finalize(); err != nil {
		return err
	}

	flog.SetLevel(levelFromString(cfg.Log.Level))

	store, err := buildStore(cfg.ResourcesCSV)
	if err != nil {
		return fmt.Errorf("load resources: %w", err)
	}
	flog.Infof("loaded %d resources from %s", len(store.All()), cfg.ResourcesCSV)

	router := resource.NewRouter(store)
	bridgeAddr := "0.0.0.0:" + strconv.Itoa(cfg.TCPPort)
	bridgeListener := listener.NewTCP(bridgeAddr, router.HandleStream)
	if err := bridgeListener.Start(); err != nil {
		return fmt.Errorf("start bridge listener on %s: %w", bridgeAddr, err)
	}
	flog.Infof("bridge control listening on %s", bridgeAddr)

	httpFront := resource.NewHTTPFrontEnd(store)
	httpAddr := "0.0.0.0:" + strconv.Itoa(cfg.HTTPPort)
	httpListener := listener.NewTCP(httpAddr, httpFront.HandleStream)
	if err := httpListener.Start(); err != nil {
		return fmt.Errorf("start http front-end on %s: %w", httpAddr, err)
	}
	flog.Infof("http front-end listening on %s", httpAddr)

	var webServer *authorizer.WebServer
	if cfg.WebPort != 0 {
		webServer = authorizer.NewWebServer(authorizer.New(store))
		webAddr := "0.0.0.0:" + strconv.Itoa(cfg.WebPort)
		if err := webServer.Start(webAddr); err != nil {
			return fmt.Errorf("start authorization endpoint on %s: %w", webAddr, err)
		}
		flog.Infof("authorization endpoint listening on %s", webAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	flog.Infof("shutting down")
	bridgeListener.Stop()
	httpListener.Stop()
	if webServer != nil {
		webServer.Stop()
	}
	return nil
}

// buildStore loads the resource CSV and constructs a free Resource for
// each row.
func buildStore(path string) (*resource.Store, error) {
	rows, err := conf.LoadResourceCSV(path)
	if err != nil {
		return nil, err
	}
	store := resource.NewStore()
	for _, row := range rows {
		store.Add(resource.New(resource.Kind(row.Type), row.Con, row.Digest, row.Salt))
	}
	return store, nil
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
