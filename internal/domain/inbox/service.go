package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	apperrors "github.com/yanqian/faq-pipeline/pkg/errors"
	"github.com/yanqian/faq-pipeline/pkg/util"
)

var errEmptyEmail = errors.New("email needs a subject or a body")

// NewEmail is a support email submitted for processing.
type NewEmail struct {
	Subject       string     `json:"subject"`
	Body          string     `json:"body"`
	ThreadContext string     `json:"threadContext"`
	ReceivedAt    *time.Time `json:"receivedAt"`
}

// EmailWriter stores queued emails.
type EmailWriter interface {
	InsertEmail(ctx context.Context, email batch.Email) (batch.Email, error)
}

// BlobWriter stores bodies too large to keep inline.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Config bounds what is stored inline.
type Config struct {
	InlineBodyLimit int
	MaxSubjectChars int
}

// Service queues incoming emails for the batch processor.
type Service interface {
	Submit(ctx context.Context, email NewEmail) (batch.Email, error)
}

type service struct {
	cfg    Config
	emails EmailWriter
	blobs  BlobWriter
	logger *slog.Logger
	now    func() time.Time
	newKey func() string
}

// NewService constructs the intake. blobs may be nil, in which case every
// body is stored inline.
func NewService(cfg Config, emails EmailWriter, blobs BlobWriter, logger *slog.Logger) Service {
	if cfg.InlineBodyLimit <= 0 {
		cfg.InlineBodyLimit = 16 << 10
	}
	if cfg.MaxSubjectChars <= 0 {
		cfg.MaxSubjectChars = 500
	}
	return &service{
		cfg:    cfg,
		emails: emails,
		blobs:  blobs,
		logger: logger.With("component", "inbox.service"),
		now:    util.NowUTC,
		newKey: func() string { return fmt.Sprintf("emails/%s.txt", uuid.NewString()) },
	}
}

func (s *service) Submit(ctx context.Context, in NewEmail) (batch.Email, error) {
	subject := util.TruncateRunes(util.CollapseSpaces(strings.ToValidUTF8(in.Subject, "")), s.cfg.MaxSubjectChars)
	body := strings.TrimSpace(strings.ToValidUTF8(in.Body, ""))
	if subject == "" && body == "" {
		return batch.Email{}, apperrors.Wrap(apperrors.CodeInvalidInput, "email is empty", errEmptyEmail)
	}
	email := batch.Email{
		Subject:       subject,
		Body:          body,
		ThreadContext: strings.TrimSpace(strings.ToValidUTF8(in.ThreadContext, "")),
		ReceivedAt:    s.now(),
	}
	if in.ReceivedAt != nil && !in.ReceivedAt.IsZero() {
		email.ReceivedAt = in.ReceivedAt.UTC()
	}

	if s.blobs != nil && len(body) > s.cfg.InlineBodyLimit {
		key := s.newKey()
		if err := s.blobs.Put(ctx, key, []byte(body)); err != nil {
			return batch.Email{}, apperrors.Wrap(apperrors.CodeStore, "failed to store email body", err)
		}
		email.Body = ""
		email.BodyKey = key
		s.logger.Debug("email body offloaded", "key", key, "bytes", len(body))
	}

	saved, err := s.emails.InsertEmail(ctx, email)
	if err != nil {
		return batch.Email{}, apperrors.Wrap(apperrors.CodeStore, "failed to queue email", err)
	}
	return saved, nil
}
