// Package notify fans job progress out to realtime subscribers. One
// Notifier consumes the queue's change stream; each connected client
// holds a Handle that follows at most one job at a time.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/outfield/enrichd/job"
)

// HandleChannelBufferSize is the buffer size for per-handle channels.
// Snapshots are complete, so a slow consumer that drops intermediate
// ones still converges on the latest.
const HandleChannelBufferSize = 16

// Notifier routes queue change snapshots to per-job subscriptions
type Notifier struct {
	queue  *job.Queue
	logger *zap.SugaredLogger

	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{} // job ID -> subscriptions

	events chan job.Progress
	done   chan struct{}
	wg     sync.WaitGroup
}

type subscription struct {
	jobID string
	ch    chan job.Progress

	mu   sync.Mutex
	last job.Progress
	sent bool
}

// deliver forwards a snapshot unless something at least as new was
// already sent on this subscription. The dispatcher can drain change
// events committed before the subscription existed, and the eager
// snapshot in Subscribe races the dispatcher; suppressing stale
// snapshots here keeps the channel ordered oldest to newest either way.
func (s *subscription) deliver(p job.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sent && !p.NewerThan(s.last) {
		return
	}

	select {
	case s.ch <- p:
		s.last = p
		s.sent = true
	default:
		// Buffer full: drop, a newer snapshot will supersede it
	}
}

// NewNotifier creates a notifier over the queue's change stream
func NewNotifier(queue *job.Queue, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		queue:  queue,
		logger: log.Named("notify"),
		subs:   make(map[string]map[*subscription]struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins consuming queue change events
func (n *Notifier) Start() {
	n.events = n.queue.Subscribe()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.done:
				return
			case p := <-n.events:
				n.dispatch(p)
			}
		}
	}()
}

// Stop halts event dispatch. Active handles keep their channels; they
// just stop receiving updates.
func (n *Notifier) Stop() {
	close(n.done)
	n.wg.Wait()
	n.queue.Unsubscribe(n.events)
}

// NewHandle creates an unsubscribed handle for one client connection
func (n *Notifier) NewHandle() *Handle {
	return &Handle{notifier: n}
}

// dispatch forwards a snapshot to every subscription on its job
func (n *Notifier) dispatch(p job.Progress) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for sub := range n.subs[p.JobID] {
		sub.deliver(p)
	}
}

func (n *Notifier) add(sub *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.subs[sub.jobID]
	if !ok {
		set = make(map[*subscription]struct{})
		n.subs[sub.jobID] = set
	}
	set[sub] = struct{}{}
}

func (n *Notifier) remove(sub *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.subs[sub.jobID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(n.subs, sub.jobID)
	}
}

// Handle is one client's subscription slot: either following no job or
// following exactly one.
type Handle struct {
	notifier *Notifier

	mu     sync.Mutex
	active *subscription
}

// Subscribe starts following a job. Any previous subscription on this
// handle is torn down first. The returned channel immediately carries
// the job's current snapshot, so a subscriber attaching after a
// terminal transition still receives the final state. The channel is
// closed on Unsubscribe or replacement.
func (h *Handle) Subscribe(jobID string) (<-chan job.Progress, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active != nil {
		h.notifier.remove(h.active)
		close(h.active.ch)
		h.active = nil
	}

	sub := &subscription{
		jobID: jobID,
		ch:    make(chan job.Progress, HandleChannelBufferSize),
	}
	h.notifier.add(sub)

	// Registered before the fetch, so the dispatcher may already be
	// delivering. deliver drops whichever of the two is staler.
	j, err := h.notifier.queue.GetJob(jobID)
	if err != nil {
		h.notifier.remove(sub)
		close(sub.ch)
		return nil, err
	}
	sub.deliver(j.Snapshot())

	h.active = sub

	h.notifier.logger.Debugw("Subscribed to job", "job_id", jobID)
	return sub.ch, nil
}

// Unsubscribe stops following the current job. Safe to call on an
// unsubscribed handle.
func (h *Handle) Unsubscribe() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active == nil {
		return
	}

	h.notifier.remove(h.active)
	close(h.active.ch)
	h.active = nil
}

// JobID returns the job this handle follows, or empty when idle
func (h *Handle) JobID() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active == nil {
		return ""
	}
	return h.active.jobID
}
