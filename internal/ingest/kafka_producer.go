package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// KafkaProducer publishes driver location updates and ride lifecycle events
// for downstream consumers (geo index refresh, analytics). Best effort: the
// API path never blocks on it beyond the write timeout.
type KafkaProducer struct {
	locations *kafka.Writer
	events    *kafka.Writer
}

func NewKafkaProducer(brokers []string, locationTopic, eventTopic string) *KafkaProducer {
	return &KafkaProducer{
		locations: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: locationTopic, Balancer: &kafka.LeastBytes{}}),
		events:    kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: eventTopic, Balancer: &kafka.LeastBytes{}}),
	}
}

func (k *KafkaProducer) PublishLocation(d models.Driver) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(d)
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(d.ID), Value: b})
}

// RideEvent is the compact lifecycle record published per transition.
type RideEvent struct {
	RideID   string    `json:"ride_id"`
	Status   string    `json:"status"`
	DriverID string    `json:"driver_id,omitempty"`
	At       time.Time `json:"at"`
}

func (k *KafkaProducer) PublishRideEvent(rideID, status, driverID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := RideEvent{RideID: rideID, Status: status, DriverID: driverID, At: time.Now().UTC()}
	b, _ := json.Marshal(ev)
	return k.events.WriteMessages(ctx, kafka.Message{Key: []byte(rideID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.locations != nil {
		_ = k.locations.Close()
	}
	if k.events != nil {
		return k.events.Close()
	}
	return nil
}
