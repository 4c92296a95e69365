package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openpbx/sipcore"
	"github.com/openpbx/sipcore/auth"
	"github.com/openpbx/sipcore/config"
	"github.com/openpbx/sipcore/internal/log"
	"github.com/spf13/cobra"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the signaling engine and block until terminated",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("loading config", err)
		}

		core := sipcore.New(toCore(cfg))
		if err := core.Listen(); err != nil {
			exitWithError("starting listeners", err)
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := core.Shutdown(ctx); err != nil {
			exitWithError("shutting down", err)
		}
	},
}

func init() {
	serveCmd.Flags().DurationVarP(&shutdownTimeout, "timeout", "t", 10*time.Second, "graceful shutdown timeout")
}

// toCore translates a loaded config.File into a sipcore.Config, per
// spec.md 6's configuration surface.
func toCore(f *config.File) sipcore.Config {
	logger := log.Def
	if f.Log.Format == "dev" {
		logger = log.Dev
	}

	return sipcore.Config{
		Realm:     f.Realm,
		HostAddr:  f.LocalIP,
		ListenUDP: f.ListenUDP,
		ListenTCP: f.ListenTCP,
		ListenTLS: f.ListenTLS,
		TLSCert:   f.TLSCertPath,
		TLSKey:    f.TLSKeyPath,
		DNSServer: f.DNSServer,

		BindingDefaultExpires:  f.BindingDefaultExpiresDuration(),
		SubscriptionDefaultTTL: f.SubscriptionDefaultTTLDuration(),

		BruteForce: auth.BruteForceConfig{
			MaxAttempts:     f.Auth.MaxAttempts,
			Window:          time.Duration(f.Auth.WindowSeconds) * time.Second,
			LockoutDuration: time.Duration(f.Auth.LockoutSeconds) * time.Second,
		},
		RateLimit: auth.RateLimitConfig{
			MaxRequests: f.RateLimit.MaxRequests,
			Window:      time.Duration(f.RateLimit.WindowSeconds) * time.Second,
		},
		NonceTTL:     f.NonceTTL(),
		Algorithms:   toAlgorithms(f.SupportedAlgorithms),
		DrainTimeout: f.DrainTimeout(),

		Log: logger,
	}
}

func toAlgorithms(names []string) []auth.Algorithm {
	out := make([]auth.Algorithm, 0, len(names))
	for _, n := range names {
		out = append(out, auth.Algorithm(n))
	}
	return out
}
