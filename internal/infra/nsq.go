package infra

import (
	"fmt"

	"github.com/nsqio/go-nsq"
)

// NewNSQProducer connects to nsqd and pings it so misconfiguration fails at startup.
func NewNSQProducer(addr string) (*nsq.Producer, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq producer: %w", err)
	}
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("ping nsqd %s: %w", addr, err)
	}
	producer.SetLoggerLevel(nsq.LogLevelWarning)
	return producer, nil
}
