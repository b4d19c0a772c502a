// Package rabbit opens the AMQP connection the queue driver multiplexes its
// channels over.
package rabbit

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	URL string
}

// New dials the broker. The caller owns the connection and closes it on
// shutdown.
func New(cfg Config) (*amqp.Connection, error) {
	const op = "rabbit.New"

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("boxoffice")

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return conn, nil
}
