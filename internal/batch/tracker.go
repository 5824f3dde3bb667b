package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/parcelhub/backend-tracking/internal/carrier"
	"github.com/parcelhub/backend-tracking/internal/events"
	"github.com/parcelhub/backend-tracking/internal/lock"
	"github.com/parcelhub/backend-tracking/internal/obs"
	"github.com/parcelhub/backend-tracking/internal/ratelimit"
	"github.com/parcelhub/backend-tracking/internal/store"
)

// ErrRunInProgress is returned when a batch run is triggered while another
// run still holds the distributed lock.
var ErrRunInProgress = errors.New("batch: run already in progress")

// lockKey guards batch run exclusivity across instances.
const lockKey = "tracking:batch:run"

// Report summarizes one reconciliation run.
type Report struct {
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Total      int         `json:"total"`
	Processed  int         `json:"processed"`
	Updated    int         `json:"updated"`
	Unchanged  int         `json:"unchanged"`
	NotFound   int         `json:"notFound"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
	Results    []RunResult `json:"results"`
	Errors     []RunError  `json:"errors"`
}

// RunResult records the outcome for one shipment that reached its carrier.
type RunResult struct {
	ShipmentID     int64                `json:"shipmentId"`
	Carrier        string               `json:"carrier"`
	PreviousStatus store.ShipmentStatus `json:"previousStatus"`
	NewStatus      store.ShipmentStatus `json:"newStatus"`
	Tracking       carrier.Result       `json:"tracking"`
}

// RunError records a shipment whose carrier call or persistence failed.
type RunError struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
	Message        string `json:"message"`
}

// Tracker reconciles every open shipment against its carrier. One run walks
// all candidates, fans out per carrier with bounded concurrency, and applies
// the forward-only status policy to each result.
type Tracker struct {
	Store    store.Store
	Registry *carrier.Registry
	Bus      *events.Bus
	Locker   lock.Locker
	Budget   ratelimit.CarrierBudget

	// PerCarrier bounds concurrent calls against a single carrier API.
	PerCarrier  int64
	CallTimeout time.Duration
	LockTTL     time.Duration
	Logger      zerolog.Logger
	Now         func() time.Time
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Run executes one reconciliation pass. A second concurrent call returns
// ErrRunInProgress instead of queueing.
func (t *Tracker) Run(ctx context.Context) (Report, error) {
	ttl := t.LockTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	acquired, release, err := t.Locker.TryAcquire(ctx, lockKey, ttl)
	if err != nil {
		return Report{}, fmt.Errorf("batch: acquire run lock: %w", err)
	}
	if !acquired {
		return Report{}, ErrRunInProgress
	}
	defer release()

	report, err := t.run(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.BatchRunsTotal.WithLabelValues(result).Inc()
	obs.BatchRunDuration.Observe(obs.DurationMillis(report.FinishedAt.Sub(report.StartedAt)))
	return report, err
}

func (t *Tracker) run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: t.now()}

	candidates, err := t.Store.Candidates(ctx)
	if err != nil {
		report.FinishedAt = t.now()
		return report, fmt.Errorf("batch: load candidates: %w", err)
	}
	report.Total = len(candidates)

	perCarrier := t.PerCarrier
	if perCarrier <= 0 {
		perCarrier = 4
	}
	var (
		mu         sync.Mutex
		semaphores = make(map[carrier.Tag]*semaphore.Weighted)
	)
	carrierSem := func(tag carrier.Tag) *semaphore.Weighted {
		mu.Lock()
		defer mu.Unlock()
		sem, ok := semaphores[tag]
		if !ok {
			sem = semaphore.NewWeighted(perCarrier)
			semaphores[tag] = sem
		}
		return sem
	}

	outcomes := make([]shipmentOutcome, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, shipment := range candidates {
		group.Go(func() error {
			tag := resolveTag(shipment)
			if tag == carrier.TagUnknown {
				outcomes[i] = shipmentOutcome{class: outcomeSkipped}
				t.Logger.Warn().Int64("shipment_id", shipment.ID).
					Str("tracking_number", shipment.EffectiveTrackingNumber()).
					Msg("no carrier resolvable, skipping shipment")
				return nil
			}
			sem := carrierSem(tag)
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			outcomes[i] = t.processShipment(groupCtx, shipment, tag)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		report.FinishedAt = t.now()
		tally(&report, outcomes)
		return report, fmt.Errorf("batch: run aborted: %w", err)
	}

	report.FinishedAt = t.now()
	tally(&report, outcomes)

	if t.Bus != nil && len(candidates) > 0 {
		// The completion event hangs off the first candidate for audit
		// ordering; the payload itself is the run report.
		if err := t.Bus.Emit(ctx, events.TopicBatchCompleted, candidates[0].ID, report); err != nil {
			t.Logger.Warn().Err(err).Msg("emit batch completion event")
		}
	}
	return report, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeUpdated
	outcomeUnchanged
	outcomeNotFound
	outcomeSkipped
)

func (o outcome) String() string {
	switch o {
	case outcomeUpdated:
		return "updated"
	case outcomeUnchanged:
		return "unchanged"
	case outcomeNotFound:
		return "not_found"
	case outcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// shipmentOutcome pairs the tallied class with the per-shipment detail that
// feeds the report's results and errors lists.
type shipmentOutcome struct {
	class  outcome
	result *RunResult
	runErr *RunError
}

func tally(report *Report, outcomes []shipmentOutcome) {
	for _, o := range outcomes {
		obs.BatchShipmentsTotal.WithLabelValues(o.class.String()).Inc()
		switch o.class {
		case outcomeUpdated:
			report.Updated++
		case outcomeUnchanged:
			report.Unchanged++
		case outcomeNotFound:
			report.NotFound++
		case outcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
		if o.class != outcomeSkipped {
			report.Processed++
		}
		if o.result != nil {
			report.Results = append(report.Results, *o.result)
		}
		if o.runErr != nil {
			report.Errors = append(report.Errors, *o.runErr)
		}
	}
}

// resolveTag prefers the carrier recorded on the shipment over pattern
// detection of the tracking number.
func resolveTag(shipment store.Shipment) carrier.Tag {
	if tag, ok := carrier.ParseTag(shipment.CarrierName); ok {
		return tag
	}
	return carrier.Detect(shipment.EffectiveTrackingNumber())
}

func (t *Tracker) processShipment(ctx context.Context, shipment store.Shipment, tag carrier.Tag) shipmentOutcome {
	logger := t.Logger.With().
		Int64("shipment_id", shipment.ID).
		Str("carrier", string(tag)).
		Logger()

	client, err := t.Registry.Resolve(tag)
	if err != nil {
		logger.Warn().Err(err).Msg("no adapter for carrier, skipping shipment")
		return shipmentOutcome{class: outcomeSkipped}
	}

	// AFS shipments are queried by the internal barcode while the result keeps
	// the customer-facing number.
	queryNumber := shipment.EffectiveTrackingNumber()
	if tag == carrier.TagAFS && shipment.Barkod != "" {
		queryNumber = shipment.Barkod
	}

	if err := t.Budget.Acquire(ctx, string(tag)); err != nil {
		logger.Warn().Err(err).Msg("carrier budget wait cancelled")
		return failedOutcome(shipment, tag, err)
	}

	callCtx := ctx
	if t.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.CallTimeout)
		defer cancel()
	}
	started := time.Now()
	result, err := client.Track(callCtx, queryNumber)
	obs.CarrierTrackDuration.WithLabelValues(string(tag)).Observe(obs.DurationMillis(time.Since(started)))
	if err != nil {
		obs.CarrierTrackTotal.WithLabelValues(string(tag), "error").Inc()
		logger.Error().Err(err).Msg("carrier track call failed")
		return failedOutcome(shipment, tag, err)
	}
	obs.CarrierTrackTotal.WithLabelValues(string(tag), string(result.Status)).Inc()
	result.TrackingNumber = shipment.EffectiveTrackingNumber()

	return t.applyResult(ctx, shipment, tag, result, logger)
}

func failedOutcome(shipment store.Shipment, tag carrier.Tag, err error) shipmentOutcome {
	return shipmentOutcome{class: outcomeFailed, runErr: &RunError{
		TrackingNumber: shipment.EffectiveTrackingNumber(),
		Carrier:        string(tag),
		Message:        err.Error(),
	}}
}

// applyResult persists the tracking snapshot and, when the carrier reports
// forward progress, advances the lifecycle status. Version conflicts are
// retried once against the fresh row.
func (t *Tracker) applyResult(ctx context.Context, shipment store.Shipment, tag carrier.Tag, result carrier.Result, logger zerolog.Logger) shipmentOutcome {
	previous := shipment.Status
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		out, updated, err := t.tryApply(ctx, shipment, result, logger)
		if err == nil {
			return shipmentOutcome{class: out, result: &RunResult{
				ShipmentID:     shipment.ID,
				Carrier:        string(tag),
				PreviousStatus: previous,
				NewStatus:      updated.Status,
				Tracking:       result,
			}}
		}
		lastErr = err
		if errors.Is(err, store.ErrVersionConflict) && attempt == 0 {
			fresh, getErr := t.Store.GetShipment(ctx, shipment.ID)
			if getErr != nil {
				logger.Error().Err(getErr).Msg("reload shipment after version conflict")
				return failedOutcome(shipment, tag, getErr)
			}
			shipment = fresh
			continue
		}
		break
	}
	logger.Error().Err(lastErr).Msg("persist tracking result")
	return failedOutcome(shipment, tag, lastErr)
}

func (t *Tracker) tryApply(ctx context.Context, shipment store.Shipment, result carrier.Result, logger zerolog.Logger) (outcome, store.Shipment, error) {
	snapshot, err := json.Marshal(result)
	if err != nil {
		return outcomeFailed, store.Shipment{}, fmt.Errorf("marshal tracking snapshot: %w", err)
	}
	now := t.now()
	fields := store.UpdateFields{
		LastTracking:  snapshot,
		LastTrackedAt: &now,
	}

	var aliasAssigned string
	if alias := result.AliasTrackingNumber; alias != "" && alias != shipment.TrackingNumber {
		fields.TrackingNumber = &alias
		aliasAssigned = alias
	}

	statusChanged := false
	next, ok := lifecycleFor(result.Status)
	if ok && next.Rank() > shipment.Status.Rank() && !shipment.Status.Terminal() {
		fields.Status = &next
		statusChanged = true
	}

	updated, err := t.Store.UpdateShipment(ctx, shipment.ID, shipment.Version, fields)
	if err != nil {
		return outcomeFailed, store.Shipment{}, err
	}

	if t.Bus != nil {
		if aliasAssigned != "" {
			payload := map[string]string{"alias": aliasAssigned, "previous": shipment.TrackingNumber}
			if err := t.Bus.Emit(ctx, events.TopicAliasAssigned, shipment.ID, payload); err != nil {
				logger.Warn().Err(err).Msg("emit alias event")
			}
		}
		if statusChanged {
			payload := map[string]string{
				"from":           string(shipment.Status),
				"to":             string(updated.Status),
				"carrier":        string(result.Carrier),
				"carrier_status": string(result.Status),
			}
			if err := t.Bus.Emit(ctx, events.TopicStatusChanged, shipment.ID, payload); err != nil {
				logger.Warn().Err(err).Msg("emit status change event")
			}
		}
	}

	switch {
	case statusChanged:
		return outcomeUpdated, updated, nil
	case result.Status == carrier.StatusNotFound:
		return outcomeNotFound, updated, nil
	default:
		return outcomeUnchanged, updated, nil
	}
}

// lifecycleFor maps a canonical tracking status onto the lifecycle bucket it
// can advance a shipment to. Side states and pre-transit never advance.
func lifecycleFor(status carrier.Status) (store.ShipmentStatus, bool) {
	switch status {
	case carrier.StatusInTransit, carrier.StatusOutForDelivery:
		return store.StatusShipped, true
	case carrier.StatusDelivered:
		return store.StatusDelivered, true
	default:
		return "", false
	}
}
