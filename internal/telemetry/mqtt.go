// Package telemetry publishes war events to an MQTT broker for external
// dashboards and bridge displays.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/warserver-project/warserver/internal/config"
	"github.com/warserver-project/warserver/internal/events"
	"github.com/warserver-project/warserver/internal/util"
)

// MQTT topics.
const (
	TopicWarTurn    = "warserver/turn"
	TopicWarBattle  = "warserver/battle"
	TopicWarClients = "warserver/clients"
	TopicWarSaves   = "warserver/saves"
	TopicWarAdmin   = "warserver/admin"
)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"cpu_cores": sysInfo.CPUCores,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("warserver-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events. It blocks
// until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventTurnStarted, "mqtt.turnStarted", h.onTurn)
	h.eventBus.Subscribe(events.EventTurnEnded, "mqtt.turnEnded", h.onTurn)
	h.eventBus.Subscribe(events.EventWarOver, "mqtt.warOver", h.onTurn)
	h.eventBus.Subscribe(events.EventBattleOpened, "mqtt.battleOpened", h.onBattle)
	h.eventBus.Subscribe(events.EventSectorCleared, "mqtt.sectorCleared", h.onBattle)
	h.eventBus.Subscribe(events.EventClientConnected, "mqtt.clientConnected", h.onClient)
	h.eventBus.Subscribe(events.EventClientDisconnected, "mqtt.clientDisconnected", h.onClient)
	h.eventBus.Subscribe(events.EventGameSaved, "mqtt.gameSaved", h.onSave)
	h.eventBus.Subscribe(events.EventGameLoaded, "mqtt.gameLoaded", h.onSave)
	h.eventBus.Subscribe(events.EventStatusReport, "mqtt.statusReport", h.onStatus)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onTurn(ctx context.Context, event events.Event) error {
	h.publish(TopicWarTurn, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onBattle(ctx context.Context, event events.Event) error {
	h.publish(TopicWarBattle, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onClient(ctx context.Context, event events.Event) error {
	h.publish(TopicWarClients, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onSave(ctx context.Context, event events.Event) error {
	h.publish(TopicWarSaves, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onStatus(ctx context.Context, event events.Event) error {
	h.publish(TopicWarAdmin, event.Payload)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicWarAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
