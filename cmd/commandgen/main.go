package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"exoskeleton/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	unit       = pflag.String("unit", "greenhouse", "Unit to command (greenhouse, injection, bubble)")
	action     = pflag.String("action", "deploy", "Action verb to send")
	params     = pflag.StringToString("param", nil, "Command parameter as key=value, repeatable (e.g. --param depth=200)")
	mqttBroker = pflag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = pflag.String("user", "", "MQTT username")
	mqttPass   = pflag.String("pass", "", "MQTT password")
	wait       = pflag.Duration("wait", 15*time.Second, "How long to wait for a COMPLETED or ERROR status")
	sensors    = pflag.Bool("sensors", false, "Also print telemetry while waiting")
)

// buildCommand converts the --param flags into a command.
func buildCommand(action string, raw map[string]string) (models.Command, error) {
	cmd := models.Command{Action: action}
	if len(raw) == 0 {
		return cmd, nil
	}

	cmd.Params = make(map[string]float64, len(raw))
	for key, value := range raw {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return models.Command{}, fmt.Errorf("param %s: %w", key, err)
		}
		cmd.Params[key] = v
	}
	return cmd, nil
}

func terminal(state string) bool {
	return state == models.StatusCompleted || state == models.StatusError
}

func main() {
	pflag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cmd, err := buildCommand(*action, *params)
	if err != nil {
		logger.Fatal("Invalid command", zap.Error(err))
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		logger.Fatal("Failed to marshal command", zap.Error(err))
	}

	topics := models.UnitTopics(*unit)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("commandgen-%s", uuid.NewString()))
	if *mqttUser != "" {
		opts.SetUsername(*mqttUser)
		opts.SetPassword(*mqttPass)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	done := make(chan models.StatusMessage, 1)

	statusToken := client.Subscribe(topics.Status, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var status models.StatusMessage
		if err := json.Unmarshal(msg.Payload(), &status); err != nil {
			logger.Warn("Unreadable status", zap.ByteString("payload", msg.Payload()), zap.Error(err))
			return
		}
		logger.Info("Status",
			zap.String("state", status.State),
			zap.String("message", status.Message),
			zap.Int64("timestamp_ms", status.Timestamp))
		if terminal(status.State) {
			select {
			case done <- status:
			default:
			}
		}
	})
	if statusToken.Wait() && statusToken.Error() != nil {
		logger.Fatal("Failed to subscribe to status", zap.Error(statusToken.Error()))
	}

	if *sensors {
		token := client.Subscribe(topics.Sensors, 0, func(_ mqtt.Client, msg mqtt.Message) {
			logger.Info("Telemetry", zap.ByteString("payload", msg.Payload()))
		})
		if token.Wait() && token.Error() != nil {
			logger.Warn("Failed to subscribe to telemetry", zap.Error(token.Error()))
		}
	}

	token := client.Publish(topics.Command, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to publish command", zap.Error(token.Error()))
	}
	logger.Info("Command sent",
		zap.String("topic", topics.Command),
		zap.ByteString("payload", payload))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case status := <-done:
		if status.State == models.StatusError {
			client.Disconnect(250)
			os.Exit(1)
		}
	case <-time.After(*wait):
		logger.Warn("No terminal status received", zap.Duration("waited", *wait))
		client.Disconnect(250)
		os.Exit(2)
	case <-ctx.Done():
		logger.Info("Interrupted")
	}
}
