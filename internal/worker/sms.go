package worker

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/averlane/courier/internal/jobqueue"
)

// TypeSMS is the job type handled by the SMS processor.
const TypeSMS = "sms"

// SMSPayload is the job payload for outbound text messages.
type SMSPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// SMSSender sends one text message.
type SMSSender interface {
	Send(ctx context.Context, msg SMSPayload) error
}

// SMSProcessor decodes SMS jobs and hands them to an SMSSender.
type SMSProcessor struct {
	sender SMSSender
}

// NewSMSProcessor wires the processor. A nil sender falls back to
// LogSMSSender.
func NewSMSProcessor(sender SMSSender, logger *zap.Logger) *SMSProcessor {
	if sender == nil {
		sender = &LogSMSSender{logger: logger}
	}
	return &SMSProcessor{sender: sender}
}

func (p *SMSProcessor) Type() string { return TypeSMS }

func (p *SMSProcessor) Process(ctx context.Context, job *jobqueue.Job) error {
	var msg SMSPayload
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return errors.Wrap(err, "decode sms payload")
	}
	if msg.To == "" {
		return errors.New("sms payload missing recipient")
	}
	return p.sender.Send(ctx, msg)
}

// LogSMSSender is an SMSSender that only logs.
type LogSMSSender struct {
	logger *zap.Logger
}

func (s *LogSMSSender) Send(_ context.Context, msg SMSPayload) error {
	logger := s.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("sms sent", zap.String("to", msg.To))
	return nil
}
