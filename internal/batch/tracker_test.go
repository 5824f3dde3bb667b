package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/batch"
	"github.com/parcelhub/backend-tracking/internal/carrier"
	"github.com/parcelhub/backend-tracking/internal/events"
	"github.com/parcelhub/backend-tracking/internal/lock"
	"github.com/parcelhub/backend-tracking/internal/obs"
	"github.com/parcelhub/backend-tracking/internal/store"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("tracking_test", prometheus.NewRegistry())
	m.Run()
}

type fakeClient struct {
	tag     carrier.Tag
	results map[string]carrier.Result
	errs    map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeClient) Tag() carrier.Tag { return f.tag }

func (f *fakeClient) Track(_ context.Context, trackingNumber string) (carrier.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, trackingNumber)
	f.mu.Unlock()
	if err, ok := f.errs[trackingNumber]; ok {
		return carrier.Result{}, err
	}
	if result, ok := f.results[trackingNumber]; ok {
		return result, nil
	}
	return carrier.Result{TrackingNumber: trackingNumber, Carrier: f.tag, Status: carrier.StatusNotFound}, nil
}

func (f *fakeClient) tracked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client}
}

func newTracker(t *testing.T, mem *store.Memory, clients ...carrier.Client) *batch.Tracker {
	t.Helper()
	return &batch.Tracker{
		Store:       mem,
		Registry:    carrier.NewRegistry(clients...),
		Bus:         &events.Bus{Store: mem},
		Locker:      newLocker(t),
		PerCarrier:  2,
		CallTimeout: time.Second,
	}
}

func TestRunAdvancesStatusAndIsIdempotent(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	shipment := mem.Seed(store.Shipment{
		TrackingNumber: "1Z12345E1234567890",
		CarrierName:    "UPS",
		Status:         store.StatusApproved,
	})

	ups := &fakeClient{tag: carrier.TagUPS, results: map[string]carrier.Result{
		"1Z12345E1234567890": {
			TrackingNumber: "1Z12345E1234567890",
			Carrier:        carrier.TagUPS,
			Status:         carrier.StatusInTransit,
			Description:    "Departed facility",
		},
	}}
	tracker := newTracker(t, mem, ups)

	report, err := tracker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	require.Equal(t, 1, report.Updated)
	require.Zero(t, report.Failed)

	updated, err := mem.GetShipment(context.Background(), shipment.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusShipped, updated.Status)
	require.NotNil(t, updated.LastTrackedAt)
	require.Contains(t, string(updated.LastTracking), "IN_TRANSIT")

	// A second run with the same carrier answer must not count as an update.
	report, err = tracker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Unchanged)
	require.Zero(t, report.Updated)
}

func TestRunNeverRegressesStatus(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	shipment := mem.Seed(store.Shipment{
		TrackingNumber: "1Z12345E1234567890",
		CarrierName:    "UPS",
		Status:         store.StatusShipped,
	})

	ups := &fakeClient{tag: carrier.TagUPS, results: map[string]carrier.Result{
		"1Z12345E1234567890": {
			TrackingNumber: "1Z12345E1234567890",
			Carrier:        carrier.TagUPS,
			Status:         carrier.StatusException,
			Description:    "Held at customs",
		},
	}}
	tracker := newTracker(t, mem, ups)

	report, err := tracker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Unchanged)

	unchanged, err := mem.GetShipment(context.Background(), shipment.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusShipped, unchanged.Status, "side states must not move the lifecycle")
	require.Contains(t, string(unchanged.LastTracking), "EXCEPTION", "snapshot still records the exception")
}

func TestRunIsolatesPerShipmentFailures(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	okShipment := mem.Seed(store.Shipment{
		TrackingNumber: "1Z12345E1234567890",
		CarrierName:    "UPS",
		Status:         store.StatusApproved,
	})
	mem.Seed(store.Shipment{
		TrackingNumber: "1Z99999E9999999999",
		CarrierName:    "UPS",
		Status:         store.StatusApproved,
	})

	ups := &fakeClient{
		tag: carrier.TagUPS,
		results: map[string]carrier.Result{
			"1Z12345E1234567890": {
				TrackingNumber: "1Z12345E1234567890",
				Carrier:        carrier.TagUPS,
				Status:         carrier.StatusDelivered,
			},
		},
		errs: map[string]error{
			"1Z99999E9999999999": errors.New("connection reset"),
		},
	}
	tracker := newTracker(t, mem, ups)

	report, err := tracker.Run(context.Background())
	require.NoError(t, err, "one failing shipment must not abort the run")
	require.Equal(t, 2, report.Processed)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.Failed)

	require.Len(t, report.Results, 1, "the healthy shipment still lands in results")
	require.Equal(t, okShipment.ID, report.Results[0].ShipmentID)
	require.Equal(t, store.StatusApproved, report.Results[0].PreviousStatus)
	require.Equal(t, store.StatusDelivered, report.Results[0].NewStatus)

	require.Len(t, report.Errors, 1)
	require.Equal(t, "1Z99999E9999999999", report.Errors[0].TrackingNumber)
	require.Equal(t, "UPS", report.Errors[0].Carrier)
	require.Contains(t, report.Errors[0].Message, "connection reset")

	delivered, err := mem.GetShipment(context.Background(), okShipment.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusDelivered, delivered.Status)
}

func TestRunTracksAFSByBarcodeAndPersistsAlias(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	shipment := mem.Seed(store.Shipment{
		ManualTrackingNumber: "MGS12345",
		Barkod:               "003123456789",
		CarrierName:          "AFS",
		Status:               store.StatusApproved,
	})

	afs := &fakeClient{tag: carrier.TagAFS, results: map[string]carrier.Result{
		"003123456789": {
			TrackingNumber:      "003123456789",
			Carrier:             carrier.TagAFS,
			Status:              carrier.StatusInTransit,
			AliasTrackingNumber: "12345678901",
		},
	}}
	tracker := newTracker(t, mem, afs)

	report, err := tracker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, []string{"003123456789"}, afs.tracked(), "the carrier call must use the internal barcode")

	updated, err := mem.GetShipment(context.Background(), shipment.ID)
	require.NoError(t, err)
	require.Equal(t, "12345678901", updated.TrackingNumber, "downstream carrier number becomes the tracking number")
	require.Contains(t, string(updated.LastTracking), `"trackingNumber":"MGS12345"`,
		"the snapshot keeps the customer-facing number")

	var topics []string
	for _, event := range mem.Events() {
		topics = append(topics, event.Topic)
	}
	require.Contains(t, topics, events.TopicAliasAssigned)
	require.Contains(t, topics, events.TopicStatusChanged)
}

func TestRunSkipsUndetectableShipments(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	mem.Seed(store.Shipment{
		TrackingNumber: "???",
		Status:         store.StatusApproved,
	})
	tracker := newTracker(t, mem)

	report, err := tracker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Processed)
	require.Empty(t, report.Results)
	require.Empty(t, report.Errors)
}

func TestRunRefusesConcurrentExecution(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	tracker := newTracker(t, mem)

	ok, release, err := tracker.Locker.TryAcquire(context.Background(), "tracking:batch:run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = tracker.Run(context.Background())
	require.ErrorIs(t, err, batch.ErrRunInProgress)
}

// conflictingStore simulates a concurrent writer by failing the first update
// with a version conflict.
type conflictingStore struct {
	*store.Memory
	mu       sync.Mutex
	rejected bool
}

func (c *conflictingStore) UpdateShipment(ctx context.Context, id, version int64, fields store.UpdateFields) (store.Shipment, error) {
	c.mu.Lock()
	first := !c.rejected
	c.rejected = true
	c.mu.Unlock()
	if first {
		return store.Shipment{}, store.ErrVersionConflict
	}
	return c.Memory.UpdateShipment(ctx, id, version, fields)
}

func TestRunRetriesVersionConflictOnce(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	shipment := mem.Seed(store.Shipment{
		TrackingNumber: "1Z12345E1234567890",
		CarrierName:    "UPS",
		Status:         store.StatusApproved,
	})

	ups := &fakeClient{tag: carrier.TagUPS, results: map[string]carrier.Result{
		"1Z12345E1234567890": {
			TrackingNumber: "1Z12345E1234567890",
			Carrier:        carrier.TagUPS,
			Status:         carrier.StatusDelivered,
		},
	}}
	tracker := newTracker(t, mem, ups)
	tracker.Store = &conflictingStore{Memory: mem}

	report, err := tracker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated, "a single version conflict should be retried, not failed")

	final, err := mem.GetShipment(context.Background(), shipment.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusDelivered, final.Status)
}
