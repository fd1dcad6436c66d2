package kafkaconsumer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// errDropEvent marks events that can never succeed on redelivery (bad
// payload, unknown cache key). The claim loop marks them consumed and moves
// on; returning them would pin the partition on the same offset forever.
var errDropEvent = errors.New("undeliverable event")

type groupHandler struct {
	consumer *Consumer
	logger   *slog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			start := time.Now()
			err := h.consumer.ProcessOne(ctx, msg)
			switch {
			case err == nil:
				sess.MarkMessage(msg, "")
			case errors.Is(err, errDropEvent):
				h.logger.Warn("dropping invalidation event",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
					"elapsed", time.Since(start), "err", err.Error())
				sess.MarkMessage(msg, "")
			default:
				return fmt.Errorf("process event (topic=%s partition=%d offset=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
		}
	}
}
