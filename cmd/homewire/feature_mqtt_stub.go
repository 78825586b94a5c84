//go:build no_mqtt

package main

import (
	"log/slog"

	"homewire/internal/hub"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *hub.Hub, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
