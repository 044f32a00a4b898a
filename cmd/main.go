package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"matrixout/internal/clientmqtt"
	"matrixout/internal/config"
	"matrixout/internal/frame"
	"matrixout/internal/logger"
	"matrixout/internal/render"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "matrixout",
	Short:        "drive LED matrices over ArtNet and serial panel links",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup reads the configuration and creates the logger.
func setup() (*config.Config, *logger.Log, error) {
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration file read error: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create a logger: %w", err)
	}
	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")
	return cfg, log, nil
}

func run(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	src := frame.NewPattern(cfg.Render.Width, cfg.Render.Height)
	devices, err := openDevices(log, cfg.Devices, src)
	if err != nil {
		log.With(logger.Fields{"module": "output"}).Errorf("error while creating output devices. %v", err)
		return err
	}

	var reporter render.Reporter
	var client *clientmqtt.ClientMQTT
	if cfg.MQTT.Enabled {
		client = clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT))
		if err := client.Start(ctx); err != nil {
			// status publishing is optional, the matrix keeps running.
			// Start gives up waiting after ConnectTimeout.
			log.Error("failed to start MQTT service:", err.Error())
		} else {
			reporter = client
		}
	}

	loop := render.NewLoop(log, cfg.Render.FPS, src, devices, reporter)
	log.Infof("rendering %dx%d at %d fps to %d device(s)", cfg.Render.Width, cfg.Render.Height, cfg.Render.FPS, len(devices))

	err = loop.Run(ctx)

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}
	loop.Close()

	log.Info("shutdown complete")
	return err
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:       cfg.ClientID,
		Schema:         "tcp",
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Password:       cfg.Password,
		Qos:            cfg.Qos,
		Topic:          cfg.Topic,
		Interval:       cfg.Interval.Duration,
		ConnectTimeout: cfg.ConnectTimeout.Duration,
	}
}
