package authority

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

// Event kinds surfaced by the poller.
const (
	EventApprovedReady = "approved_ready"
	EventDenied        = "denied"
	EventExpired       = "expired"
	EventPendingCount  = "pending_count"
)

type Event struct {
	Kind         string
	Escalation   domain.Escalation
	PendingCount int
}

// resolution classifies what a status observation requires. The table below
// is exhaustive over (previous status, current status) so a new backend
// status falls through to nothing instead of a surprise notification.
type resolution int

const (
	resolveNothing resolution = iota
	resolveSurface            // surface this tick (repeats until dismissed)
	resolveOnce               // surface exactly once, on the transition
	resolveIfRecent           // first sighting of a settled state: surface only if reviewed recently
)

// Poller watches the caller's escalations at a fixed interval and turns
// status changes into events. Approved-and-unused escalations are surfaced
// every tick until dismissed, so a busy salesperson cannot miss an approval.
// Denials and expiries are surfaced once, but the revoke hook fires for every
// dead escalation on every tick: revocation is a correctness obligation and
// cannot depend on whether a transition was notification-worthy.
type Poller struct {
	client   backend.AuthorityClient
	interval time.Duration
	recency  time.Duration
	notify   func(Event)
	revoke   func(domain.Escalation)

	mu        sync.Mutex
	cancel    context.CancelFunc
	last      map[string]string
	dismissed map[string]struct{}
}

// DefaultRecencyWindow bounds how old a reviewed-at timestamp may be for a
// first-observed denial or expiry to still be worth a notification. Older
// resolutions predate this session.
const DefaultRecencyWindow = 15 * time.Minute

func NewPoller(client backend.AuthorityClient, interval time.Duration, notify func(Event), revoke func(domain.Escalation)) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if notify == nil {
		notify = func(Event) {}
	}
	if revoke == nil {
		revoke = func(domain.Escalation) {}
	}
	return &Poller{
		client:   client,
		interval: interval,
		recency:  DefaultRecencyWindow,
		notify:   notify,
		revoke:   revoke,
	}
}

// Start begins polling until Stop or context cancellation. Restarting resets
// all change tracking: the first tick of a new session classifies everything
// as first-observed. includePending additionally reports the open review
// queue depth, for manager sessions.
func (p *Poller) Start(ctx context.Context, includePending bool) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.last = make(map[string]string)
	p.dismissed = make(map[string]struct{})
	p.mu.Unlock()

	go p.run(runCtx, includePending)
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

// Dismiss silences further approved_ready events for an escalation. The
// poller keeps reporting an approval until the salesperson acknowledges or
// consumes it.
func (p *Poller) Dismiss(escalationID string) {
	p.mu.Lock()
	if p.dismissed != nil {
		p.dismissed[escalationID] = struct{}{}
	}
	p.mu.Unlock()
}

func (p *Poller) run(ctx context.Context, includePending bool) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx, includePending)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, includePending)
		}
	}
}

// Tick performs one poll cycle. Exported for deterministic tests; production
// code relies on Start's ticker.
func (p *Poller) Tick(ctx context.Context, includePending bool) {
	p.mu.Lock()
	if p.last == nil {
		p.last = make(map[string]string)
		p.dismissed = make(map[string]struct{})
	}
	p.mu.Unlock()
	p.tick(ctx, includePending)
}

func (p *Poller) tick(ctx context.Context, includePending bool) {
	escalations, err := p.client.GetMyEscalations(ctx)
	if err != nil {
		log.Printf("[authority] WARN: escalation poll failed: %v", err)
		return
	}

	now := time.Now()
	var events []Event
	var dead []domain.Escalation

	p.mu.Lock()
	for _, esc := range escalations {
		prev, known := p.last[esc.ID]
		p.last[esc.ID] = esc.Status
		_, dismissed := p.dismissed[esc.ID]

		// Dead escalations are handed to the revoke hook every tick,
		// independent of the notification classification below. Revocation
		// downstream is idempotent.
		if esc.Status == domain.EscalationDenied || esc.Status == domain.EscalationExpired {
			dead = append(dead, esc)
		}

		switch classify(prev, known, esc.Status) {
		case resolveSurface:
			if esc.UsedInTransactionID == "" && !dismissed {
				events = append(events, Event{Kind: EventApprovedReady, Escalation: esc})
			}
		case resolveOnce:
			events = append(events, Event{Kind: kindFor(esc.Status), Escalation: esc})
		case resolveIfRecent:
			if esc.ReviewedAt != nil && now.Sub(*esc.ReviewedAt) <= p.recency {
				events = append(events, Event{Kind: kindFor(esc.Status), Escalation: esc})
			}
		}
	}
	p.mu.Unlock()

	for _, esc := range dead {
		p.revoke(esc)
	}

	if includePending {
		pending, err := p.client.GetPendingEscalations(ctx)
		if err != nil {
			log.Printf("[authority] WARN: pending escalation poll failed: %v", err)
		} else {
			events = append(events, Event{Kind: EventPendingCount, PendingCount: len(pending)})
		}
	}

	for _, event := range events {
		p.notify(event)
	}
}

func classify(prev string, known bool, curr string) resolution {
	switch curr {
	case domain.EscalationApproved:
		// Approvals repeat until dismissed regardless of when they happened:
		// an unused approval is actionable for as long as it stays unused.
		return resolveSurface
	case domain.EscalationDenied, domain.EscalationExpired:
		if !known {
			return resolveIfRecent
		}
		if prev == domain.EscalationPending {
			return resolveOnce
		}
		return resolveNothing
	default:
		return resolveNothing
	}
}

func kindFor(status string) string {
	if status == domain.EscalationExpired {
		return EventExpired
	}
	return EventDenied
}
