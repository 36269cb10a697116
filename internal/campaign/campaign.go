// Package campaign runs operator-defined notification jobs on a cron
// schedule. Campaigns are stored in the database; their payload is validated
// like any other job before it is accepted.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/queue"
	"github.com/zulandar/signalbox/internal/rescan"
	"github.com/zulandar/signalbox/internal/store"
	"go.uber.org/zap"
)

// ErrInvalid reports a campaign rejected before it was stored.
var ErrInvalid = errors.New("campaign: invalid")

// Store is the campaign repository.
type Store interface {
	CreateCampaign(ctx context.Context, nc store.NewCampaign) (*models.Campaign, error)
	GetCampaign(ctx context.Context, id uint) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, enabledOnly bool) ([]models.Campaign, error)
	UpdateCampaign(ctx context.Context, id uint, upd store.CampaignUpdate) (*models.Campaign, error)
	RecordCampaignRun(ctx context.Context, id uint, at time.Time) error
}

// Options configures a Service.
type Options struct {
	Store  Store
	Queue  queue.Submitter
	Logger *zap.Logger
	Now    func() time.Time
}

// Service manages campaigns and fires the enabled ones.
type Service struct {
	store  Store
	queue  queue.Submitter
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	entries map[uint]cron.EntryID
}

// New returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("campaign: store is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("campaign: queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:   opts.Store,
		queue:   opts.Queue,
		logger:  opts.Logger.Named("campaign"),
		now:     opts.Now,
		entries: make(map[uint]cron.EntryID),
	}, nil
}

// Spec describes a campaign to create.
type Spec struct {
	Name        string
	Kind        queue.Kind
	Schedule    string
	Payload     json.RawMessage
	Description string
	Enabled     bool
}

// Update lists the editable fields. Nil means unchanged.
type Update struct {
	Schedule    *string
	Payload     json.RawMessage
	Description *string
	Enabled     *bool
}

// Validate checks a schedule and a payload for kind without storing anything.
func Validate(kind queue.Kind, schedule string, payload json.RawMessage) error {
	if _, err := rescan.Parser.Parse(schedule); err != nil {
		return fmt.Errorf("%w: schedule %q: %w", ErrInvalid, schedule, err)
	}
	if kind == queue.KindRescanBatch {
		return fmt.Errorf("%w: kind %s cannot be scheduled", ErrInvalid, kind)
	}
	if _, err := jobFor(kind, payload); err != nil {
		return err
	}
	return nil
}

func jobFor(kind queue.Kind, payload json.RawMessage) (queue.Job, error) {
	if !kind.Valid() {
		return queue.Job{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	p, err := queue.Decode(queue.Job{Kind: kind, Priority: queue.PriorityFor(kind), Payload: payload})
	if err != nil {
		return queue.Job{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return queue.NewJob(p)
}

// Create validates and stores a campaign, then reschedules if running.
func (s *Service) Create(ctx context.Context, spec Spec) (*models.Campaign, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if err := Validate(spec.Kind, spec.Schedule, spec.Payload); err != nil {
		return nil, err
	}
	c, err := s.store.CreateCampaign(ctx, store.NewCampaign{
		Name:        spec.Name,
		Kind:        string(spec.Kind),
		Schedule:    spec.Schedule,
		Payload:     spec.Payload,
		Description: spec.Description,
		Enabled:     spec.Enabled,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Campaign created", zap.Uint("id", c.ID), zap.String("name", c.Name))
	return c, s.reloadIfRunning(ctx)
}

// Update validates the merged campaign and stores the change.
func (s *Service) Update(ctx context.Context, id uint, upd Update) (*models.Campaign, error) {
	cur, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	schedule := cur.Schedule
	if upd.Schedule != nil {
		schedule = *upd.Schedule
	}
	payload := json.RawMessage(cur.Payload)
	if upd.Payload != nil {
		payload = upd.Payload
	}
	if err := Validate(queue.Kind(cur.Kind), schedule, payload); err != nil {
		return nil, err
	}

	c, err := s.store.UpdateCampaign(ctx, id, store.CampaignUpdate{
		Schedule:    upd.Schedule,
		Payload:     upd.Payload,
		Description: upd.Description,
		Enabled:     upd.Enabled,
	})
	if err != nil {
		return nil, err
	}
	return c, s.reloadIfRunning(ctx)
}

// Disable stops a campaign from firing. The row is kept.
func (s *Service) Disable(ctx context.Context, id uint) (*models.Campaign, error) {
	off := false
	return s.Update(ctx, id, Update{Enabled: &off})
}

// Get returns one campaign.
func (s *Service) Get(ctx context.Context, id uint) (*models.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// List returns all campaigns ordered by name.
func (s *Service) List(ctx context.Context) ([]models.Campaign, error) {
	return s.store.ListCampaigns(ctx, false)
}

// Start schedules every enabled campaign and keeps firing them until ctx is
// done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return errors.New("campaign: already started")
	}
	s.cron = cron.New(cron.WithParser(rescan.Parser))
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

func (s *Service) reloadIfRunning(ctx context.Context) error {
	s.mu.Lock()
	running := s.cron != nil
	s.mu.Unlock()
	if !running {
		return nil
	}
	return s.Reload(ctx)
}

// Reload replaces the scheduled entries with the enabled campaigns from the
// store. A campaign that no longer validates is logged and skipped.
func (s *Service) Reload(ctx context.Context) error {
	campaigns, err := s.store.ListCampaigns(ctx, true)
	if err != nil {
		return fmt.Errorf("campaign: reload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return errors.New("campaign: not started")
	}
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	for _, c := range campaigns {
		if _, err := jobFor(queue.Kind(c.Kind), json.RawMessage(c.Payload)); err != nil {
			s.logger.Warn("Skipping invalid campaign", zap.Uint("id", c.ID), zap.Error(err))
			continue
		}
		id, name := c.ID, c.Name
		entry, err := s.cron.AddFunc(c.Schedule, func() { s.fire(id, name) })
		if err != nil {
			s.logger.Warn("Skipping campaign with bad schedule", zap.Uint("id", c.ID), zap.Error(err))
			continue
		}
		s.entries[c.ID] = entry
	}
	s.logger.Info("Campaigns scheduled", zap.Int("count", len(s.entries)))
	return nil
}

// Fire submits one run of a campaign now and records it. Scheduled runs go
// through here too, so every run reads the current payload.
func (s *Service) Fire(ctx context.Context, id uint) (queue.Job, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return queue.Job{}, err
	}
	job, err := jobFor(queue.Kind(c.Kind), json.RawMessage(c.Payload))
	if err != nil {
		return queue.Job{}, err
	}
	if err := s.queue.Submit(ctx, job); err != nil {
		return queue.Job{}, fmt.Errorf("campaign: fire %d: %w", id, err)
	}
	if err := s.store.RecordCampaignRun(ctx, id, s.now()); err != nil {
		return job, err
	}
	return job, nil
}

func (s *Service) fire(id uint, name string) {
	job, err := s.Fire(s.ctx, id)
	if err != nil {
		s.logger.Error("Campaign run failed", zap.Uint("id", id), zap.String("name", name), zap.Error(err))
		return
	}
	s.logger.Info("Campaign fired", zap.Uint("id", id), zap.String("name", name), zap.String("job", job.ID))
}
