package dashboard

import (
	"strconv"

	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/merge"
)

// Config bounds the pipeline list size.
type Config struct {
	DefaultLimit int
	MaxLimit     int
}

// Service creates dashboard consumers on a shared registry.
type Service struct {
	registry *feed.Registry
	logger   *logging.ColoredLogger
	cfg      Config
}

// NewService creates a Service. Zero limits default to 20 and 200.
func NewService(reg *feed.Registry, cfg Config, logger *logging.ColoredLogger) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 200
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	return &Service{registry: reg, logger: logging.OrNop(logger), cfg: cfg}
}

// Registry returns the shared registry.
func (s *Service) Registry() *feed.Registry { return s.registry }

// ClampLimit maps a requested pipeline limit into the configured range.
func (s *Service) ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.cfg.DefaultLimit
	case limit > s.cfg.MaxLimit:
		return s.cfg.MaxLimit
	default:
		return limit
	}
}

// Key returns the feed key a channel resolves to for principal.
func (s *Service) Key(principal, channel string, limit int) (feed.Key, error) {
	params, err := s.params(channel, limit)
	if err != nil {
		return feed.Key{}, err
	}
	return feed.NewKey(principal, channel, params), nil
}

func (s *Service) params(channel string, limit int) (feed.Params, error) {
	switch channel {
	case ChannelPipelines:
		return feed.Params{"limit": strconv.Itoa(s.ClampLimit(limit))}, nil
	case ChannelPendingInputs:
		return nil, nil
	default:
		return nil, ferrors.NewNotFoundError("channel", channel)
	}
}

// PipelineFeed is the pipeline list consumer. Pushes are merged into the held
// list so locally attached traces survive.
type PipelineFeed struct {
	*feed.Consumer[feed.Rows, []Pipeline]
}

// Pipelines creates an unstarted pipeline list consumer.
func (s *Service) Pipelines(principals feed.PrincipalSupplier, limit int) (*PipelineFeed, error) {
	limit = s.ClampLimit(limit)
	c, err := feed.NewConsumer(s.registry, principals, s.logger, feed.Options[feed.Rows, []Pipeline]{
		Name:    "pipeline-list",
		Channel: ChannelPipelines,
		Params:  feed.Params{"limit": strconv.Itoa(limit)},
		Fold:    foldPipelines(limit),
	})
	if err != nil {
		return nil, err
	}
	return &PipelineFeed{Consumer: c}, nil
}

func foldPipelines(limit int) func(prev *[]Pipeline, rows feed.Rows) ([]Pipeline, error) {
	opts := merge.Options[string, Pipeline]{
		Key: func(p Pipeline) string { return p.ID },
		Keep: func(existing Pipeline, merged *Pipeline) {
			if merged.Trace == "" {
				merged.Trace = existing.Trace
			}
		},
		Less:  func(a, b Pipeline) bool { return a.UpdatedAt.Before(b.UpdatedAt) },
		Limit: limit,
	}
	return func(prev *[]Pipeline, rows feed.Rows) ([]Pipeline, error) {
		incoming, err := DecodePipelines(rows)
		if err != nil {
			return nil, err
		}
		var existing []Pipeline
		if prev != nil {
			existing = *prev
		}
		return merge.Merge(existing, incoming, opts), nil
	}
}

// AttachTrace stores a lazily loaded trace on a held pipeline. It reports false
// when the pipeline is not in the list.
func (f *PipelineFeed) AttachTrace(id, trace string) bool {
	found := false
	f.Update(func(list *[]Pipeline) {
		for i := range *list {
			if (*list)[i].ID != id {
				continue
			}
			cp := append([]Pipeline(nil), (*list)...)
			cp[i].Trace = trace
			*list = cp
			found = true
			return
		}
	})
	return found
}

// View returns the JSON-ready state.
func (f *PipelineFeed) View() View { return viewOf(ChannelPipelines, f.State()) }

// PendingInputsFeed lists the inputs the user still has to answer.
type PendingInputsFeed struct {
	*feed.Consumer[feed.Rows, []PendingInput]
}

// PendingInputs creates an unstarted pending input consumer.
func (s *Service) PendingInputs(principals feed.PrincipalSupplier) (*PendingInputsFeed, error) {
	c, err := feed.NewConsumer(s.registry, principals, s.logger, feed.Options[feed.Rows, []PendingInput]{
		Name:    "pending-input-list",
		Channel: ChannelPendingInputs,
		Mapper:  DecodePendingInputs,
	})
	if err != nil {
		return nil, err
	}
	return &PendingInputsFeed{Consumer: c}, nil
}

// View returns the JSON-ready state.
func (f *PendingInputsFeed) View() View { return viewOf(ChannelPendingInputs, f.State()) }

// PendingCountFeed is the badge counter. It shares the pending input feed.
type PendingCountFeed struct {
	*feed.Consumer[feed.Rows, int]
}

// PendingCount creates an unstarted pending input counter.
func (s *Service) PendingCount(principals feed.PrincipalSupplier) (*PendingCountFeed, error) {
	c, err := feed.NewConsumer(s.registry, principals, s.logger, feed.Options[feed.Rows, int]{
		Name:    "pending-input-count",
		Channel: ChannelPendingInputs,
		Mapper:  func(rows feed.Rows) (int, error) { return len(rows), nil },
	})
	if err != nil {
		return nil, err
	}
	return &PendingCountFeed{Consumer: c}, nil
}

// View returns the JSON-ready state.
func (f *PendingCountFeed) View() View { return viewOf(ChannelPendingInputs, f.State()) }
