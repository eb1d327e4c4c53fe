package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queueevents "github.com/wolfman30/frontdesk-queue/internal/events"
	statusworker "github.com/wolfman30/frontdesk-queue/internal/worker/status"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

type stubSweeper struct {
	calls int
	res   statusworker.Result
	err   error
}

func (s *stubSweeper) SweepOnce(context.Context) (statusworker.Result, error) {
	s.calls++
	return s.res, s.err
}

type memoryProcessed struct {
	seen    map[string]bool
	lookErr error
}

func (m *memoryProcessed) AlreadyProcessed(_ context.Context, source, id string) (bool, error) {
	if m.lookErr != nil {
		return false, m.lookErr
	}
	return m.seen[source+"/"+id], nil
}

func (m *memoryProcessed) MarkProcessed(_ context.Context, source, id string) (bool, error) {
	key := source + "/" + id
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type stubOutbox struct {
	calls int
	err   error
}

func (o *stubOutbox) DrainOnce(context.Context) (queueevents.DrainResult, error) {
	o.calls++
	return queueevents.DrainResult{Delivered: 1}, o.err
}

func newHandler(sw *stubSweeper, processed processedStore) *handler {
	return &handler{
		sweeper:   sw,
		processed: processed,
		logger:    logging.NewWithWriter("error", &bytes.Buffer{}),
	}
}

func TestHandleSweepsOncePerEvent(t *testing.T) {
	sw := &stubSweeper{res: statusworker.Result{Doctors: 3, Advanced: 2}}
	processed := &memoryProcessed{seen: map[string]bool{}}
	h := newHandler(sw, processed)
	evt := events.CloudWatchEvent{ID: "evt-1", Source: "aws.events"}

	res, err := h.handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Doctors)
	assert.True(t, processed.seen[sweepSource+"/evt-1"])

	res, err = h.handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Zero(t, res.Doctors)
	assert.Equal(t, 1, sw.calls, "redelivered event must not sweep again")
}

func TestHandleSweepFailureIsNotRecorded(t *testing.T) {
	sw := &stubSweeper{err: errors.New("doctors unavailable")}
	processed := &memoryProcessed{seen: map[string]bool{}}
	h := newHandler(sw, processed)

	_, err := h.handle(context.Background(), events.CloudWatchEvent{ID: "evt-2"})
	require.Error(t, err)
	assert.False(t, processed.seen[sweepSource+"/evt-2"], "failed sweep must be retried on redelivery")
}

func TestHandleProcessedLookupError(t *testing.T) {
	sw := &stubSweeper{}
	h := newHandler(sw, &memoryProcessed{lookErr: errors.New("pg down")})

	_, err := h.handle(context.Background(), events.CloudWatchEvent{ID: "evt-3"})
	require.ErrorContains(t, err, "check processed")
	assert.Zero(t, sw.calls)
}

func TestHandleWithoutDedupe(t *testing.T) {
	sw := &stubSweeper{}
	h := newHandler(sw, nil)

	_, err := h.handle(context.Background(), events.CloudWatchEvent{})
	require.NoError(t, err)
	_, err = h.handle(context.Background(), events.CloudWatchEvent{})
	require.NoError(t, err)
	assert.Equal(t, 2, sw.calls)
}

func TestHandleDrainsOutboxAfterSweep(t *testing.T) {
	sw := &stubSweeper{}
	outbox := &stubOutbox{err: errors.New("sqs throttled")}
	h := newHandler(sw, &memoryProcessed{seen: map[string]bool{}})
	h.outbox = outbox

	_, err := h.handle(context.Background(), events.CloudWatchEvent{ID: "evt-4"})
	require.NoError(t, err, "delivery failures stay in the outbox for the next run")
	assert.Equal(t, 1, outbox.calls)
}
