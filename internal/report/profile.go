package report

import (
	"context"
	"strings"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/pkg/logger"
)

const SourceUnknown = "unknown"

// ProfileChain asks each provider in turn and falls back to a bare header.
type ProfileChain struct {
	providers []domrepo.ProfileProvider
	log       *logger.Logger
}

var _ domrepo.ProfileProvider = (*ProfileChain)(nil)

func NewProfileChain(log *logger.Logger, providers ...domrepo.ProfileProvider) *ProfileChain {
	if log == nil {
		log = logger.Nop()
	}
	return &ProfileChain{providers: providers, log: log}
}

// Profile never fails except on cancellation.
func (c *ProfileChain) Profile(ctx context.Context, symbol string) (*models.Profile, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, p := range c.providers {
		if p == nil {
			continue
		}
		prof, err := p.Profile(ctx, symbol)
		if err == nil && prof != nil {
			return prof, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Debug("profile provider failed", logger.String("symbol", symbol), logger.Error(err))
	}
	return &models.Profile{Ticker: symbol, Source: SourceUnknown}, nil
}
