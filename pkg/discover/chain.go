// Package discover lists the items behind a selector (profile, hashtag or
// explore category) through an ordered chain of strategies.
package discover

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// Strategy is one way of listing items for a query
type Strategy interface {
	Name() string
	Discover(ctx context.Context, q models.Query) ([]models.Descriptor, error)
}

// Chain tries strategies in order. The first non-empty listing wins; an empty
// listing falls through to the next strategy.
type Chain struct {
	strategies []Strategy
	log        *logrus.Entry
}

// NewChain creates a discovery chain
func NewChain(log *logrus.Entry, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, log: log}
}

// Discover returns the first non-empty listing. When every strategy came back
// empty the result is empty without error; when every strategy failed the
// failures are joined under ErrDiscovery.
func (c *Chain) Discover(ctx context.Context, q models.Query) ([]models.Descriptor, error) {
	qLog := c.log.WithFields(logrus.Fields{"mode": q.Mode, "value": q.Value})
	var errs []error
	empty := false
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := s.Discover(ctx, q)
		if err != nil {
			qLog.WithField("strategy", s.Name()).Warnf("Discovery strategy failed: %v", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if len(items) == 0 {
			qLog.WithField("strategy", s.Name()).Debug("Discovery strategy found nothing")
			empty = true
			continue
		}
		qLog.WithField("strategy", s.Name()).Debugf("Discovered %d item(s)", len(items))
		return items, nil
	}
	if empty || len(errs) == 0 {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrDiscovery, errors.Join(errs...))
}
