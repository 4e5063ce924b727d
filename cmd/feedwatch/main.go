// Command feedwatch attaches the dashboard feeds of the signed-in user and logs
// every state change. It is the headless counterpart of the widgets.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/config"
	"github.com/DeBrosOfficial/fitsync/pkg/dashboard"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/node"
	"github.com/DeBrosOfficial/fitsync/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "Path to a fitsync config file")
	credsPath := flag.String("credentials", "", "Credentials file (default from config, then ~/.fitsync/credentials.json)")
	login := flag.String("login", "", "Write credentials for this user id and exit")
	limit := flag.Int("limit", 0, "Pipeline list size")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(2)
		}
	}

	logger, err := logging.New(logging.ComponentGeneral, logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Colors: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	path, err := credentialsPath(*credsPath, cfg)
	if err != nil {
		logger.ComponentError(logging.ComponentGeneral, "cannot resolve credentials path", zap.Error(err))
		os.Exit(1)
	}

	if *login != "" {
		now := time.Now()
		if err := session.SaveCredentials(path, &session.Credentials{UserID: *login, IssuedAt: now}); err != nil {
			logger.ComponentError(logging.ComponentGeneral, "failed to save credentials", zap.Error(err))
			os.Exit(1)
		}
		logger.ComponentInfo(logging.ComponentGeneral, "Credentials saved", zap.String("file", path))
		return
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.ComponentError(logging.ComponentGeneral, "invalid configuration", zap.Error(e))
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n := node.NewNode(cfg, logger)
	if err := n.Start(ctx); err != nil {
		logger.ComponentError(logging.ComponentGeneral, "failed to start feed node", zap.Error(err))
		os.Exit(1)
	}
	defer n.Stop()

	if err := run(ctx, n.Service(), session.File{Path: path}, cfg.Session, *limit, logger); err != nil {
		logger.ComponentError(logging.ComponentGeneral, "feedwatch failed", zap.Error(err))
		os.Exit(1)
	}
}

func credentialsPath(flagValue string, cfg *config.Config) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.Session.CredentialsFile != "" {
		return cfg.Session.CredentialsFile, nil
	}
	return session.DefaultCredentialsPath()
}

// run attaches the feeds and blocks until ctx is done. Without a principal the
// feeds stay idle until one appears.
func run(ctx context.Context, svc *dashboard.Service, principals session.File, sc config.SessionConfig, limit int, logger *logging.ColoredLogger) error {
	principal, ok := session.WaitForPrincipal(ctx, principals, sc.PollInterval, sc.MaxWait)
	if ok {
		logger.ComponentInfo(logging.ComponentGeneral, "Signed in", zap.String("principal", principal))
	} else {
		logger.ComponentWarn(logging.ComponentGeneral, "No signed-in user, feeds stay idle until login",
			zap.String("credentials", principals.Path),
			zap.Duration("waited", sc.MaxWait))
	}

	pipelines, err := svc.Pipelines(principals, limit)
	if err != nil {
		return err
	}
	inputs, err := svc.PendingInputs(principals)
	if err != nil {
		return err
	}
	count, err := svc.PendingCount(principals)
	if err != nil {
		return err
	}
	streams := []namedStream{
		{"pipelines", pipelines},
		{"pending-inputs", inputs},
		{"pending-count", count},
	}

	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s namedStream) {
			defer wg.Done()
			watch(s, logger)
		}(s)
		s.stream.Start()
	}

	if !ok {
		go attachOnLogin(ctx, principals, sc.PollInterval, streams, logger)
	}

	<-ctx.Done()
	for _, s := range streams {
		s.stream.Close()
	}
	wg.Wait()
	return nil
}

type namedStream struct {
	name   string
	stream dashboard.Stream
}

// watch logs every state change until the stream is closed.
func watch(s namedStream, logger *logging.ColoredLogger) {
	for range s.stream.Changes() {
		v := s.stream.View()
		fields := []zap.Field{
			zap.String("feed", s.name),
			zap.String("phase", string(v.Phase)),
			zap.Bool("loading", v.Loading),
			zap.Bool("listening", v.Listening),
			zap.Any("data", v.Data),
		}
		if v.Error != "" {
			logger.ComponentWarn(logging.ComponentFeed, "Feed state changed", append(fields, zap.String("error", v.Error))...)
			continue
		}
		logger.ComponentInfo(logging.ComponentFeed, "Feed state changed", fields...)
	}
}

// attachOnLogin retries idle streams once a principal shows up.
func attachOnLogin(ctx context.Context, principals session.File, interval time.Duration, streams []namedStream, logger *logging.ColoredLogger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			principal, ok := principals.CurrentPrincipalID()
			if !ok {
				continue
			}
			logger.ComponentInfo(logging.ComponentGeneral, "Signed in", zap.String("principal", principal))
			for _, s := range streams {
				s.stream.Refresh()
			}
			return
		}
	}
}
