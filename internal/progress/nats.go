package progress

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSink publishes progress events as JSON on a per-run NATS subject
// (<prefix>.<run id>.progress). Publishing is best-effort: failures are
// logged and dropped so the engine never blocks on a broker.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSink returns a sink publishing under subjectPrefix.
func NewNATSSink(conn *nats.Conn, subjectPrefix string, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{conn: conn, subject: subjectPrefix, logger: logger}
}

// Publish implements Sink.
func (s *NATSSink) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to encode progress event", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s.progress", s.subject, event.RunID)
	if err := s.conn.Publish(subject, payload); err != nil {
		s.logger.Warn("failed to publish progress event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
