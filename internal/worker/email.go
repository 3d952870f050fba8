package worker

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/averlane/courier/internal/jobqueue"
)

// TypeEmail is the job type handled by the email processor.
const TypeEmail = "email"

// EmailPayload is the job payload for outbound mail.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer sends one email. Implementations talk to a real provider; the
// default LogMailer just records the send.
type Mailer interface {
	Send(ctx context.Context, msg EmailPayload) error
}

// EmailProcessor decodes email jobs and hands them to a Mailer.
type EmailProcessor struct {
	mailer Mailer
}

// NewEmailProcessor wires the processor. A nil mailer falls back to
// LogMailer.
func NewEmailProcessor(mailer Mailer, logger *zap.Logger) *EmailProcessor {
	if mailer == nil {
		mailer = &LogMailer{logger: logger}
	}
	return &EmailProcessor{mailer: mailer}
}

func (p *EmailProcessor) Type() string { return TypeEmail }

func (p *EmailProcessor) Process(ctx context.Context, job *jobqueue.Job) error {
	var msg EmailPayload
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return errors.Wrap(err, "decode email payload")
	}
	if msg.To == "" {
		return errors.New("email payload missing recipient")
	}
	return p.mailer.Send(ctx, msg)
}

// LogMailer is a Mailer that only logs, for deployments without a provider.
type LogMailer struct {
	logger *zap.Logger
}

func (m *LogMailer) Send(_ context.Context, msg EmailPayload) error {
	logger := m.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
