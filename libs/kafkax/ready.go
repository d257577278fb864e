package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrNoBrokers = errors.New("kafka brokers not configured")

// DialTimeout bounds each broker dial made by ReadyCheck.
const DialTimeout = 2 * time.Second

// ReadyCheck passes when any configured broker accepts a connection and
// answers a metadata request. Brokers are tried in order, so a single
// broker restart does not take the service out of rotation.
func ReadyCheck(brokers string) func(context.Context) error {
	list := SplitBrokers(brokers)
	dialer := &kafka.Dialer{Timeout: DialTimeout}
	return func(ctx context.Context) error {
		if len(list) == 0 {
			return ErrNoBrokers
		}
		var errs []error
		for _, addr := range list {
			err := probeBroker(ctx, dialer, addr)
			if err == nil {
				return nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			if ctx.Err() != nil {
				break
			}
		}
		return errors.Join(errs...)
	}
}

func probeBroker(ctx context.Context, dialer *kafka.Dialer, addr string) error {
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	return nil
}
