package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/code-batch-engine/internal/codegen"
	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultScanCap = 10000

// Scanner loads the codes already issued under a prefix so the generator can
// avoid them. The result is capped; past the cap it under-approximates and
// the primary key on codes.id is the only remaining guard.
type Scanner struct {
	codes   repository.CodeRepository
	cap     int
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewScanner(codes repository.CodeRepository, scanCap int, logger *zap.Logger) *Scanner {
	if scanCap < 1 {
		scanCap = defaultScanCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scanner{
		codes:  codes,
		cap:    scanCap,
		logger: logger,
	}
}

func (s *Scanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *Scanner) Scan(ctx context.Context, prefix string) (map[string]struct{}, error) {
	ids, err := s.codes.ScanRange(ctx, prefix, codegen.UpperBound(prefix), s.cap)
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing codes for prefix %q: %w", prefix, err)
	}

	if len(ids) >= s.cap {
		observability.ContextLogger(ctx, s.logger).Warn("existing code scan reached cap",
			zap.String("prefix", prefix),
			zap.Int("cap", s.cap),
		)
		s.metrics.IncScanCapReached()
	}

	existing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}
