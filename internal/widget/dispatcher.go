// Package widget is the lifecycle dispatcher: it turns host events into
// fetch, cache, render, navigation and scheduling work for one instance.
// Nothing it does propagates a failure back to the host.
package widget

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sensorsp/widget-engine/internal/budget"
	"github.com/sensorsp/widget-engine/internal/cache"
	"github.com/sensorsp/widget-engine/internal/fetch"
	"github.com/sensorsp/widget-engine/internal/host"
	"github.com/sensorsp/widget-engine/internal/interval"
	"github.com/sensorsp/widget-engine/internal/models"
	"github.com/sensorsp/widget-engine/internal/observability"
	"github.com/sensorsp/widget-engine/internal/render"
)

// Action is what the dispatcher did for an event.
type Action string

const (
	ActionFetchRender Action = "fetch_render"
	ActionDelete      Action = "delete"
	ActionNavigate    Action = "navigate"
	ActionIgnored     Action = "ignored"
	ActionFailed      Action = "failed"
)

// Outcome reports the handling of one event. It is informational; the host
// never sees an error.
type Outcome struct {
	Action        Action           `json:"action"`
	Source        fetch.Source     `json:"source,omitempty"`
	Rendered      bool             `json:"rendered"`
	RenderSkipped bool             `json:"renderSkipped,omitempty"`
	Interval      time.Duration    `json:"-"`
	Navigated     string           `json:"navigated,omitempty"`
	Snapshot      *models.Snapshot `json:"snapshot,omitempty"`
}

// MarshalJSON reports Interval in seconds.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	return json.Marshal(struct {
		plain
		IntervalSeconds float64 `json:"intervalSeconds,omitempty"`
	}{plain(o), o.Interval.Seconds()})
}

// ConfigResult is the signal returned to the host configuration flow.
type ConfigResult string

const (
	ConfigOK     ConfigResult = "ok"
	ConfigCancel ConfigResult = "cancel"
)

// minStepWindow is the least budget worth handing to a trailing host call.
const minStepWindow = 50 * time.Millisecond

// Instance identifies one widget for batch updates.
type Instance struct {
	ID          int64  `json:"instanceId"`
	VariantName string `json:"variantName"`
}

// Config holds dispatcher settings.
type Config struct {
	// EventBudget is the wall-clock budget of one event.
	EventBudget time.Duration
	// RenderReserve is the remaining budget required to dispatch a render.
	RenderReserve time.Duration
	// BatchConcurrency bounds UpdateAll parallelism.
	BatchConcurrency int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		EventBudget:      10 * time.Second,
		RenderReserve:    2 * time.Second,
		BatchConcurrency: 4,
	}
}

// Dispatcher handles lifecycle events. Events for the same instance are
// serialized; different instances run concurrently.
type Dispatcher struct {
	cache    *cache.Cache
	pipeline *fetch.Pipeline
	policy   *interval.Policy
	host     host.Host
	clock    clockwork.Clock
	cfg      Config
	locks    *instanceLocks
	logger   *zap.Logger
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(c *cache.Cache, pipeline *fetch.Pipeline, policy *interval.Policy, h host.Host, clock clockwork.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.EventBudget <= 0 {
		cfg.EventBudget = def.EventBudget
	}
	if cfg.RenderReserve <= 0 {
		cfg.RenderReserve = def.RenderReserve
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cache:    c,
		pipeline: pipeline,
		policy:   policy,
		host:     h,
		clock:    clock,
		cfg:      cfg,
		locks:    newInstanceLocks(),
		logger:   logger,
	}
}

// Handle processes one lifecycle event. The caller's cancellation is ignored:
// the event budget is the only deadline.
func (d *Dispatcher) Handle(ctx context.Context, ev models.Event) Outcome {
	ctx = context.WithoutCancel(ctx)
	evType := models.ParseEventType(string(ev.Type))
	logger := d.eventLogger(ctx, ev.InstanceID, evType)

	if ev.InstanceID < 0 {
		logger.Warn("ignoring event for invalid instance id")
		return d.finish(evType, Outcome{Action: ActionIgnored}, d.clock.Now())
	}

	unlock := d.locks.Lock(ev.InstanceID)
	defer unlock()

	start := d.clock.Now()
	return d.finish(evType, d.dispatch(ctx, ev, evType, logger), start)
}

func (d *Dispatcher) dispatch(ctx context.Context, ev models.Event, evType models.EventType, logger *zap.Logger) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("widget event panic", zap.Any("panic", r))
			out = Outcome{Action: ActionFailed}
		}
	}()

	b := budget.New(d.clock, d.cfg.EventBudget)

	switch evType {
	case models.EventAdded, models.EventUpdate, models.EventResized:
		return d.fetchAndRender(ctx, ev.InstanceID, ev.VariantName, ev.DarkMode, b, logger)
	case models.EventRemoved:
		return d.remove(ctx, ev.InstanceID, logger)
	case models.EventTapped:
		switch models.ParseSubAction(string(ev.SubAction)) {
		case models.SubActionRefresh:
			return d.fetchAndRender(ctx, ev.InstanceID, ev.VariantName, ev.DarkMode, b, logger)
		case models.SubActionOpenAlerts:
			return d.navigate(ctx, host.LinkAlerts, b, logger)
		default:
			return d.navigate(ctx, host.LinkMain, b, logger)
		}
	default:
		logger.Warn("unknown widget event, ignoring", zap.String("event_type", string(ev.Type)))
		return Outcome{Action: ActionIgnored}
	}
}

func (d *Dispatcher) fetchAndRender(ctx context.Context, instanceID int64, variantName string, darkMode bool, b *budget.Budget, logger *zap.Logger) Outcome {
	var cfgPtr *models.WidgetConfig
	cfg, hasCfg := d.cache.GetConfig(ctx, instanceID)
	if hasCfg {
		cfgPtr = &cfg
	}

	res := d.pipeline.Fetch(ctx, instanceID, b, fetch.Options{Config: cfgPtr})
	out := Outcome{Action: ActionFetchRender, Source: res.Source}
	snap := res.Snapshot
	out.Snapshot = &snap

	if _, known := models.ParseVariant(variantName); !known {
		logger.Info("unknown variant, rendering compact", zap.String("variant", variantName))
	}

	if b.HasRemaining(d.cfg.RenderReserve) {
		out.Rendered = d.render(ctx, instanceID, variantName, darkMode, cfg.Theme, res.Snapshot, b, logger)
	} else {
		out.RenderSkipped = true
		observability.BudgetSkipsTotal.WithLabelValues("render").Inc()
		logger.Warn("skipping render, budget nearly exhausted", zap.Duration("remaining", b.Remaining()))
	}

	out.Interval = d.requestInterval(ctx, b, logger)

	logger.Debug("widget updated",
		zap.String("source", string(res.Source)),
		zap.Bool("offline", res.Snapshot.Offline),
		zap.Bool("rendered", out.Rendered),
		zap.Duration("elapsed", b.Elapsed()))
	return out
}

func (d *Dispatcher) render(ctx context.Context, instanceID int64, variantName string, darkMode bool, theme models.Theme, snap models.Snapshot, b *budget.Budget, logger *zap.Logger) bool {
	payload := render.Select(variantName, snap, render.Options{
		Theme:    theme,
		DarkMode: darkMode,
		Now:      d.clock.Now(),
	})
	renderCtx, cancel := b.Context(ctx, 0)
	defer cancel()

	err := d.host.Render(renderCtx, host.RenderRequest{
		InstanceKey: instanceID,
		VariantName: variantName,
		Payload:     payload,
	})
	if err != nil {
		observability.RenderTotal.WithLabelValues(string(payload.Variant), "error").Inc()
		logger.Warn("render failed", zap.String("variant", string(payload.Variant)), zap.Error(err))
		return false
	}
	observability.RenderTotal.WithLabelValues(string(payload.Variant), "success").Inc()
	return true
}

// requestInterval resolves the advisory period and hands it to the host
// scheduler, both within what is left of the event budget. It returns 0 when
// the budget is already spent.
func (d *Dispatcher) requestInterval(ctx context.Context, b *budget.Budget, logger *zap.Logger) time.Duration {
	if !b.HasRemaining(minStepWindow) {
		observability.BudgetSkipsTotal.WithLabelValues("interval").Inc()
		logger.Warn("skipping interval request, budget exhausted", zap.Duration("remaining", b.Remaining()))
		return 0
	}
	ctx, cancel := b.Context(ctx, 0)
	defer cancel()

	iv := d.policy.Resolve(ctx)
	observability.RequestedIntervalSeconds.Set(iv.Seconds())
	if err := d.host.RequestInterval(ctx, iv); err != nil {
		logger.Warn("interval request failed", zap.Duration("interval", iv), zap.Error(err))
	}
	return iv
}

func (d *Dispatcher) remove(ctx context.Context, instanceID int64, logger *zap.Logger) Outcome {
	if err := d.cache.DeleteAll(ctx, instanceID); err != nil {
		logger.Warn("failed to delete widget data", zap.Error(err))
	} else {
		logger.Info("widget removed, cache and config deleted")
	}
	return Outcome{Action: ActionDelete}
}

func (d *Dispatcher) navigate(ctx context.Context, link string, b *budget.Budget, logger *zap.Logger) Outcome {
	target := "main"
	if link == host.LinkAlerts {
		target = "alerts"
	}
	out := Outcome{Action: ActionNavigate}
	ctx, cancel := b.Context(ctx, 0)
	defer cancel()

	if !d.host.CanOpen(ctx, link) {
		observability.NavigationTotal.WithLabelValues(target, "unsupported").Inc()
		logger.Warn("cannot open deep link", zap.String("url", link))
		return out
	}
	if err := d.host.Open(ctx, link); err != nil {
		observability.NavigationTotal.WithLabelValues(target, "error").Inc()
		logger.Warn("failed to open deep link", zap.String("url", link), zap.Error(err))
		return out
	}
	observability.NavigationTotal.WithLabelValues(target, "success").Inc()
	out.Navigated = link
	return out
}

// Configure stores the configuration written by the host configuration flow
// and refreshes the instance. Invalid input or a failed write cancels.
func (d *Dispatcher) Configure(ctx context.Context, instanceID int64, variantName string, cfg models.WidgetConfig, darkMode bool) (result ConfigResult) {
	ctx = context.WithoutCancel(ctx)
	logger := d.logger.With(zap.Int64("instance_id", instanceID), zap.String("event", "configure"))
	if id := observability.CorrelationID(ctx); id != "" {
		logger = logger.With(zap.String("correlation_id", id))
	}

	cfg.SensorID = strings.TrimSpace(cfg.SensorID)
	cfg.Theme = models.ParseTheme(string(cfg.Theme))
	if instanceID < 0 || cfg.SensorID == "" {
		logger.Warn("rejecting widget configuration without sensor")
		return ConfigCancel
	}

	unlock := d.locks.Lock(instanceID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("widget configure panic", zap.Any("panic", r))
			result = ConfigCancel
		}
	}()

	if err := d.cache.PutConfig(ctx, instanceID, cfg); err != nil {
		logger.Warn("failed to persist widget configuration", zap.Error(err))
		return ConfigCancel
	}
	logger.Info("widget configured", zap.String("sensor_id", cfg.SensorID), zap.String("theme", string(cfg.Theme)))

	b := budget.New(d.clock, d.cfg.EventBudget)
	d.fetchAndRender(ctx, instanceID, variantName, darkMode, b, logger)
	return ConfigOK
}

// UpdateAll runs a periodic update for every instance, at most
// BatchConcurrency at a time. Outcomes are returned in input order.
func (d *Dispatcher) UpdateAll(ctx context.Context, instances []Instance) []Outcome {
	outcomes := make([]Outcome, len(instances))
	var g errgroup.Group
	g.SetLimit(d.cfg.BatchConcurrency)
	for i, inst := range instances {
		g.Go(func() error {
			outcomes[i] = d.Handle(ctx, models.Event{
				InstanceID:  inst.ID,
				VariantName: inst.VariantName,
				Type:        models.EventUpdate,
			})
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (d *Dispatcher) eventLogger(ctx context.Context, instanceID int64, evType models.EventType) *zap.Logger {
	logger := d.logger.With(zap.Int64("instance_id", instanceID), zap.String("event", string(evType)))
	if id := observability.CorrelationID(ctx); id != "" {
		logger = logger.With(zap.String("correlation_id", id))
	}
	return logger
}

func (d *Dispatcher) finish(evType models.EventType, out Outcome, start time.Time) Outcome {
	label := eventLabel(evType)
	observability.WidgetEventsTotal.WithLabelValues(label, string(out.Action)).Inc()
	observability.WidgetEventDuration.WithLabelValues(label).Observe(d.clock.Since(start).Seconds())
	return out
}

// eventLabel bounds metric cardinality for unrecognized event names.
func eventLabel(t models.EventType) string {
	switch t {
	case models.EventAdded, models.EventUpdate, models.EventResized, models.EventRemoved, models.EventTapped:
		return string(t)
	default:
		return "unknown"
	}
}
