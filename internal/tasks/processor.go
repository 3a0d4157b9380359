package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"certportal/internal/service"
)

const TypeCleanupExpired = "cleanup-expired"

// Sweeper removes expired certificates.
type Sweeper interface {
	SweepExpired(ctx context.Context) (service.SweepReport, error)
}

type Processor struct {
	sweeper Sweeper
	logger  zerolog.Logger
}

type TaskPayload struct {
	Type        string `json:"type"`
	RequestedAt string `json:"requestedAt"`
}

func NewProcessor(sweeper Sweeper, logger zerolog.Logger) *Processor {
	return &Processor{
		sweeper: sweeper,
		logger:  logger,
	}
}

// Handle runs the task in msg. Malformed and unknown messages are logged and
// reported as handled so the consumer acks them instead of retrying forever.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("dropping undecodable task")
		return nil
	}

	switch payload.Type {
	case TypeCleanupExpired:
		return p.handleCleanup(ctx, msg.ID, payload)
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}

func (p *Processor) handleCleanup(ctx context.Context, id string, payload TaskPayload) error {
	report, err := p.sweeper.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep expired certificates: %w", err)
	}
	p.logger.Info().
		Str("message_id", id).
		Str("requested_at", payload.RequestedAt).
		Int("removed", report.Removed).
		Strs("blob_failures", report.BlobFailures).
		Msg("cleanup task finished")
	return nil
}
