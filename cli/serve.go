package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yeremiapane/tablesync/config"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/router"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

const shutdownGrace = 10 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config()
			if port != "" {
				cfg.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}

func runServe(parentCtx context.Context, cfg config.Config) error {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			utils.InfoLogger.WithField("signal", sig.String()).Info("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	diners := hub.New("diner", cfg.ChannelCap)
	admins := hub.New("admin", cfg.ChannelCap)
	notify := services.Notifier{Diners: diners, Admins: admins}

	if rdb := config.NewRedisClient(cfg); rdb != nil {
		defer rdb.Close()
		backplane := hub.NewRedisBackplane(rdb, cfg.RedisChannel, diners, admins)
		notify = services.Notifier{Diners: backplane.For(diners), Admins: backplane.For(admins)}
		go func() {
			if err := backplane.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				utils.ErrorLogger.WithError(err).Error("redis backplane stopped")
			}
		}()
	}

	var pos services.POSClient = services.LocalPOSClient{}
	if cfg.POSURL != "" {
		client, err := services.NewHTTPPOSClient(services.POSConfig{
			BaseURL: cfg.POSURL,
			APIKey:  cfg.POSAPIKey,
			Timeout: cfg.POSTimeout,
		})
		if err != nil {
			return err
		}
		pos = client
	} else {
		utils.InfoLogger.Warn("POS_URL not set, orders are confirmed locally")
	}

	var events services.EventPublisher = services.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		publisher := services.NewAMQPPublisher(cfg.RabbitMQURL, cfg.EventsQueue)
		defer publisher.Close()
		events = publisher
	}

	sweeper := services.NewSessionSweeper(db, notify, cfg.SessionIdleTTL, cfg.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	svc := router.NewServices(&cfg, db, diners, admins, notify, pos, events)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.SetupRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.InfoLogger.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env}).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	utils.InfoLogger.Info("server stopped")
	return nil
}
