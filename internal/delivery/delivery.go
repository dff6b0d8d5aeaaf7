// Package delivery implements reliable text delivery into agent terminal
// sessions: preflight idle probes, the two-phase payload/Enter write,
// progressive verification against pane snapshots, and bounded retries with
// escalation. A background scanner re-attempts recently failed deliveries
// once their session returns to an idle prompt.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/tracing"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	"github.com/stevehuang0115/agentmux-sub002/internal/session"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// ErrSessionMissing marks a delivery aimed at a session the backend does not
// know. Not retried; the caller decides whether to recreate the session.
var ErrSessionMissing = errors.New("delivery target session does not exist")

// Config tunes the delivery pipeline. Per-runtime write tuning (inter-write
// gap, probe backoff, fingerprint length) comes from the runtime profile;
// the zero-valued overrides here leave the profile in charge.
type Config struct {
	// MaxAttempts bounds write attempts per delivery.
	MaxAttempts int

	// VerifySchedule is the progressive sequence of waits before each
	// snapshot check.
	VerifySchedule []time.Duration

	// IdleProbes bounds preflight prompt probes before sending anyway.
	IdleProbes int

	// SnapshotLines is how much pane tail the verifier reads.
	SnapshotLines int

	// InterWriteDelay, IdleProbeBackoff and FingerprintLength override the
	// runtime profile for every runtime when non-zero.
	InterWriteDelay   time.Duration
	IdleProbeBackoff  time.Duration
	FingerprintLength int

	// AckTTL is how long an acknowledged payload hash blocks re-delivery
	// by the stuck scanner.
	AckTTL time.Duration
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		VerifySchedule: []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second},
		IdleProbes:     5,
		SnapshotLines:  50,
		AckTTL:         10 * time.Minute,
	}
}

// Request is one payload aimed at a live session.
type Request struct {
	SessionName string
	Payload     string
	Runtime     v1.RuntimeType
}

// Result reports the outcome of a delivery.
type Result struct {
	Success bool `json:"success"`

	// Attempts is the number of writes performed, 0 when preflight failed.
	Attempts int `json:"attempts"`

	// Error is empty on success.
	Error string `json:"error,omitempty"`

	// PromptBusyAtSend records that the prompt never went idle during
	// preflight and the write proceeded anyway.
	PromptBusyAtSend bool `json:"promptBusyAtSend,omitempty"`
}

// Deliverer drives the write-verify-retry pipeline over a session backend.
// Safe for concurrent use; callers serialize per-session writes themselves
// (the scheduler queue is the usual serialization point).
type Deliverer struct {
	backend  session.Backend
	cfg      Config
	eventBus bus.EventBus
	logger   *logger.Logger
	acks     *ackCache
}

// New builds a deliverer. eventBus may be nil when delivery outcomes need
// no fan-out.
func New(cfg Config, backend session.Backend, eventBus bus.EventBus, log *logger.Logger) *Deliverer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if len(cfg.VerifySchedule) == 0 {
		cfg.VerifySchedule = DefaultConfig().VerifySchedule
	}
	if cfg.SnapshotLines <= 0 {
		cfg.SnapshotLines = DefaultConfig().SnapshotLines
	}
	return &Deliverer{
		backend:  backend,
		cfg:      cfg,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "delivery")),
		acks:     newAckCache(cfg.AckTTL),
	}
}

// Deliver runs the full pipeline: preflight, two-phase write, progressive
// verification, retries with escalation. The outcome is always a Result;
// failures are data, not panics. Callers append the delivery log since they
// own the message metadata.
func (d *Deliverer) Deliver(ctx context.Context, req Request) Result {
	ctx, span := tracing.Tracer("delivery").Start(ctx, "delivery.deliver",
		trace.WithAttributes(
			attribute.String("session", req.SessionName),
			attribute.String("runtime", string(req.Runtime)),
			attribute.Int("payload_bytes", len(req.Payload)),
		))
	defer span.End()

	res := d.deliver(ctx, req, d.cfg.MaxAttempts)

	span.SetAttributes(
		attribute.Bool("success", res.Success),
		attribute.Int("attempts", res.Attempts),
	)
	d.publishOutcome(ctx, req, res, false)
	return res
}

// Redeliver runs a single write-and-verify pass. The stuck scanner uses it
// after confirming the session is alive and idle again.
func (d *Deliverer) Redeliver(ctx context.Context, req Request) Result {
	ctx, span := tracing.Tracer("delivery").Start(ctx, "delivery.redeliver",
		trace.WithAttributes(attribute.String("session", req.SessionName)))
	defer span.End()

	res := d.deliver(ctx, req, 1)
	span.SetAttributes(attribute.Bool("success", res.Success))
	d.publishOutcome(ctx, req, res, true)
	return res
}

func (d *Deliverer) deliver(ctx context.Context, req Request, maxAttempts int) Result {
	var res Result

	exists, err := d.backend.SessionExists(ctx, req.SessionName)
	if err != nil {
		res.Error = fmt.Sprintf("session check failed: %v", err)
		return res
	}
	if !exists {
		res.Error = ErrSessionMissing.Error()
		return res
	}

	profile := session.ProfileFor(req.Runtime)
	interWrite := profile.InterWriteDelay
	if d.cfg.InterWriteDelay > 0 {
		interWrite = d.cfg.InterWriteDelay
	}

	if !d.waitForIdle(ctx, req.SessionName, req.Runtime, profile) {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			return res
		}
		res.PromptBusyAtSend = true
		d.logger.Warn("prompt still busy after preflight, sending anyway",
			zap.String("session", req.SessionName),
			zap.String("runtime", string(req.Runtime)))
	}

	fp := Fingerprint(req.Payload, d.fingerprintLength(profile))

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		// Escalation: attempt 2 re-sends only the Enter key in case the
		// payload sits unsubmitted in the input box; attempt 3 re-sends
		// the whole payload.
		var writeErr error
		if attempt == 2 {
			writeErr = d.backend.Send(ctx, req.SessionName, []byte("\r"))
		} else {
			writeErr = d.backend.SendPayloadThenEnter(ctx, req.SessionName, req.Payload, interWrite)
		}
		if writeErr != nil {
			if ctx.Err() != nil {
				res.Error = ctx.Err().Error()
				return res
			}
			res.Error = fmt.Sprintf("write failed: %v", writeErr)
			d.logger.Warn("session write failed",
				zap.String("session", req.SessionName),
				zap.Int("attempt", attempt),
				zap.Error(writeErr))
			continue
		}

		if d.verify(ctx, req.SessionName, fp, profile) {
			res.Success = true
			res.Error = ""
			d.acks.mark(req.Payload)
			d.logger.Info("delivery verified",
				zap.String("session", req.SessionName),
				zap.Int("attempt", attempt),
				zap.Bool("prompt_busy_at_send", res.PromptBusyAtSend))
			return res
		}
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			return res
		}
		res.Error = fmt.Sprintf("delivery not verified after attempt %d", attempt)
	}

	d.logger.Error("delivery failed",
		zap.String("session", req.SessionName),
		zap.Int("attempts", res.Attempts),
		zap.String("error", res.Error))
	return res
}

// waitForIdle probes the prompt until it looks idle, up to the configured
// probe budget. Returns false when the budget is exhausted or ctx ended.
func (d *Deliverer) waitForIdle(ctx context.Context, name string, rt v1.RuntimeType, profile session.Profile) bool {
	probes := d.cfg.IdleProbes
	if probes <= 0 {
		probes = 1
	}
	backoff := profile.IdleProbeBackoff
	if d.cfg.IdleProbeBackoff > 0 {
		backoff = d.cfg.IdleProbeBackoff
	}

	for i := 0; i < probes; i++ {
		idle, err := d.backend.IsPromptIdle(ctx, name, rt)
		if err != nil {
			d.logger.Debug("prompt probe failed",
				zap.String("session", name), zap.Error(err))
		} else if idle {
			return true
		}
		if i == probes-1 {
			break
		}
		if sleepCtx(ctx, backoff) != nil {
			return false
		}
	}
	return false
}

// verify snapshots the pane on the progressive schedule and looks for the
// payload fingerprint or the runtime's echo pattern.
func (d *Deliverer) verify(ctx context.Context, name, fp string, profile session.Profile) bool {
	for _, wait := range d.cfg.VerifySchedule {
		if sleepCtx(ctx, wait) != nil {
			return false
		}
		snap, err := d.backend.Snapshot(ctx, name, d.cfg.SnapshotLines)
		if err != nil {
			d.logger.Debug("snapshot failed during verification",
				zap.String("session", name), zap.Error(err))
			continue
		}
		if accepted(snap, fp, profile) {
			return true
		}
	}
	return false
}

// Acked reports whether the payload was verified delivered recently in this
// process. The stuck scanner uses it to skip completed deliveries.
func (d *Deliverer) Acked(payload string) bool {
	return d.acks.acked(payload)
}

func (d *Deliverer) fingerprintLength(profile session.Profile) int {
	if d.cfg.FingerprintLength > 0 {
		return d.cfg.FingerprintLength
	}
	return profile.FingerprintLength
}

func (d *Deliverer) publishOutcome(ctx context.Context, req Request, res Result, rescan bool) {
	if d.eventBus == nil {
		return
	}
	eventType := events.DeliveryFailed
	if res.Success {
		eventType = events.DeliverySucceeded
		if rescan {
			eventType = events.DeliveryRecovered
		}
	}
	evt := bus.NewEvent(eventType, "delivery", map[string]interface{}{
		"session":          req.SessionName,
		"runtime":          string(req.Runtime),
		"attempts":         res.Attempts,
		"promptBusyAtSend": res.PromptBusyAtSend,
		"error":            res.Error,
	})
	if err := d.eventBus.Publish(ctx, events.BuildSessionSubject(eventType, req.SessionName), evt); err != nil {
		d.logger.Debug("delivery event publish failed", zap.Error(err))
	}
}

// sleepCtx sleeps for dur or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
