// slatefs mount client.
//
// Mounts a remote export server or an S3 bucket prefix as a read-only
// FUSE filesystem. Content is fetched lazily and cached in memory;
// SIGHUP empties the cache without unmounting.
//
// Sub-commands:
//
//	slatefs-mount mount [flags]   Mount filesystem (default)
//	slatefs-mount login [flags]   Authenticate and save a token
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/slatefs/slatefs/internal/config"
	"github.com/slatefs/slatefs/internal/fusefs"
	"github.com/slatefs/slatefs/internal/logging"
	"github.com/slatefs/slatefs/internal/metrics"
	"github.com/slatefs/slatefs/internal/provider/remote"
	s3provider "github.com/slatefs/slatefs/internal/provider/s3"
	"github.com/slatefs/slatefs/pkg/vfs"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login":
			cmdLogin(os.Args[2:])
			return
		case "mount":
			// Strip "mount" from args and fall through to normal parsing
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	cmdMount()
}

func cmdMount() {
	mountPoint := flag.String("mount", "", "Mount point for the filesystem (required)")
	serverURL := flag.String("server", "", "Server URL (overrides SLATEFS_SERVER_URL)")
	token := flag.String("token", "", "JWT authentication token")
	metricsAddr := flag.String("metrics", "", "Address to serve Prometheus metrics on (empty to disable)")
	fsName := flag.String("fsname", "slatefs", "Filesystem name reported to the kernel")
	flag.Parse()

	cfg, err := config.LoadMount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	if *mountPoint == "" {
		fmt.Fprintf(os.Stderr, "Error: -mount is required\n")
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()

	var provider vfs.Provider
	switch cfg.Backend {
	case "s3":
		p, err := s3provider.New(ctx, s3provider.Config{
			Endpoint:  s3Endpoint(cfg),
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			logging.Fatal("s3 backend init failed", zap.Error(err))
		}
		logging.Info("using s3 backend",
			zap.String("bucket", cfg.S3Bucket),
			zap.String("prefix", cfg.S3Prefix))
		provider = p

	default:
		if *serverURL != "" {
			cfg.ServerURL = *serverURL
		}
		client := remote.New(remote.Config{
			BaseURL: strings.TrimSuffix(cfg.ServerURL, "/"),
			Token:   resolveToken(cfg, *token),
		})
		if err := client.Ping(ctx); err != nil {
			logging.Warn("server not reachable, continuing anyway", zap.Error(err))
		}
		logging.Info("using remote backend", zap.String("server", cfg.ServerURL))
		provider = client
	}

	v := vfs.New(provider, vfs.Options{Logger: logging.L()})
	prometheus.MustRegister(metrics.NewFSCollector(v))

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("GET /metrics", metrics.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logging.Error("metrics server failed", zap.Error(err))
			}
		}()
		logging.Info("metrics enabled", zap.String("addr", *metricsAddr))
	}

	fsys := fusefs.New(v)
	server, err := fsys.Mount(*mountPoint, *fsName)
	if err != nil {
		logging.Fatal("mount failed", zap.Error(err))
	}
	logging.Info("mounted", zap.String("mountpoint", *mountPoint))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logging.Info("SIGHUP received, emptying content cache")
			fsys.Empty()
			continue
		}
		break
	}

	logging.Info("unmounting...")
	server.Unmount()
	logging.Info("done")
}

// s3Endpoint prepends a scheme when the configured endpoint lacks one.
func s3Endpoint(cfg *config.Mount) string {
	ep := cfg.S3Endpoint
	if ep == "" || strings.Contains(ep, "://") {
		return ep
	}
	if cfg.S3UseSSL {
		return "https://" + ep
	}
	return "http://" + ep
}

// resolveToken picks the token from the flag, the environment, or the
// saved token file, in that order.
func resolveToken(cfg *config.Mount, flagToken string) string {
	if flagToken != "" {
		return flagToken
	}
	if env := os.Getenv("SLATEFS_TOKEN"); env != "" {
		return env
	}
	tf, err := remote.LoadToken(cfg.TokenFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: no token available. Use -token, SLATEFS_TOKEN, or run 'slatefs-mount login'\n")
		os.Exit(1)
	}
	if tf.IsExpired(0) {
		fmt.Fprintf(os.Stderr, "Error: saved token has expired. Run 'slatefs-mount login' to authenticate.\n")
		os.Exit(1)
	}
	logging.Info("using saved token",
		zap.String("username", tf.Username),
		zap.String("server", tf.Server))
	return tf.Token
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "Server URL")
	fs.Parse(args)

	cfg, err := config.LoadMount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Print("Username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading username: %v\n", err)
		os.Exit(1)
	}
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := remote.New(remote.Config{BaseURL: strings.TrimSuffix(*serverURL, "/")})
	lr, err := c.Login(ctx, username, string(passwordBytes))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tf := &remote.TokenFile{
		Token:     lr.Token,
		ExpiresAt: lr.ExpiresAt,
		Server:    *serverURL,
		Username:  username,
	}
	if err := remote.SaveToken(cfg.TokenFile, tf); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Logged in as %s (token valid until %s)\n", username, lr.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("Token saved to %s\n", cfg.TokenFile)
}
