// Package realtime broadcasts simulation results over MQTT so dashboards and
// detail views can subscribe per dwelling.
package realtime

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nikita-zerofy/hems-emulator/internal/sim"
)

const (
	updateTopicFmt  = "hems/dwelling/%s/update"
	summaryTopicFmt = "hems/dwelling/%s/summary"
)

// MQTTPublisher implements sim.Publisher on a paho MQTT client.
type MQTTPublisher struct {
	client mqtt.Client
}

func NewMQTTPublisher(broker string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("hems-emulator")
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return &MQTTPublisher{client: client}, nil
}

func (p *MQTTPublisher) PublishDwellingUpdate(dwellingID string, update sim.DwellingUpdate) error {
	return p.publish(fmt.Sprintf(updateTopicFmt, dwellingID), update)
}

func (p *MQTTPublisher) PublishSummary(dwellingID string, summary sim.DwellingSummary) error {
	return p.publish(fmt.Sprintf(summaryTopicFmt, dwellingID), summary)
}

func (p *MQTTPublisher) publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	token := p.client.Publish(topic, 0, false, data)
	token.Wait()
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
