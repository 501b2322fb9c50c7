package dht

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// finderKind selects which RPC a lookup issues against each candidate.
type finderKind int

const (
	findNodesKind finderKind = iota
	findValueKind
)

// queryStatus is the terminal classification recorded in query_state
// once a candidate's RPC has completed. A key absent from query_state
// with no active timer is unqueried; a key present in the pending set is
// in flight.
type queryStatus int

const (
	statusResponded queryStatus = iota
	statusTimedOut
	statusDisconnected
)

// LookupResult is what an iterative lookup resolves to: either an
// ordered list of Nodes, or a single Value hit from the responder that
// produced it.
type LookupResult struct {
	Nodes     []Helper
	Value     []byte
	Responder *Helper
}

// completion is what a per-candidate query goroutine reports back to the
// lookup's single owning goroutine.
type completion struct {
	candidate Helper
	err       error
	value     []byte
	nodes     []Helper
}

// lookup is the iterative parallel best-first search described as the
// heart of the engine: bounded concurrency, per-RPC timeouts, escalation
// from alpha to k concurrency after a round of empty returns, and a
// termination rule evaluated after every completion event. All of this
// state (allSeen, pending, queryState) is touched only by the goroutine
// running loop(); candidate queries communicate back strictly through
// the completions channel.
type lookup struct {
	self        Key
	target      Key
	kind        finderKind
	k           int
	alpha       int
	includeSelf bool
	network     Network
	table       *RoutingTable
	storage     *Storage
	stats       *Stats

	queryTimeout time.Duration

	// onResponder is invoked, outside the lookup's own state, for every
	// candidate that answers live. This is how a lookup's outbound
	// traffic mutates the routing table (C4): the candidate has just
	// proven reachable, the same trigger dispatch uses on the inbound
	// side (see Dispatcher.enqueueAdd).
	onResponder func(*Contact)

	allSeen          []Helper
	keysSeen         map[string]bool
	queryState       map[string]queryStatus
	pending          map[string]context.CancelFunc
	responders       []Helper
	noValueResponses []Helper
	emptyStreak      int
	maxInFlight      int

	resolved bool
	result   LookupResult

	completions chan completion
}

func newLookup(self, target Key, kind finderKind, count int, includeSelf bool, cfg Config, network Network, table *RoutingTable, storage *Storage, stats *Stats, onResponder func(*Contact)) *lookup {
	return &lookup{
		self:         self,
		target:       target,
		kind:         kind,
		k:            count,
		alpha:        cfg.Alpha,
		includeSelf:  includeSelf,
		network:      network,
		table:        table,
		storage:      storage,
		stats:        stats,
		queryTimeout: cfg.QueryTimeout,
		onResponder:  onResponder,
		keysSeen:     make(map[string]bool),
		queryState:   make(map[string]queryStatus),
		pending:      make(map[string]context.CancelFunc),
		maxInFlight:  cfg.Alpha,
		completions:  make(chan completion, 256),
	}
}

// run seeds the lookup from the routing table, launches the initial
// alpha queries, and drives the state machine to completion.
func (l *lookup) run(ctx context.Context) (LookupResult, error) {
	seed := l.table.FindClosest(l.target, 2*l.k)
	for _, h := range seed {
		key := string(h.Contact.Key)
		if l.keysSeen[key] {
			continue
		}
		l.keysSeen[key] = true
		l.allSeen = append(l.allSeen, h)
	}
	l.keysSeen[string(l.self)] = true
	sortHelpers(l.allSeen)

	l.launchMore(ctx)

	for {
		if l.resolved && len(l.pending) == 0 {
			return l.result, nil
		}

		select {
		case c := <-l.completions:
			l.handleCompletion(ctx, c)
		case <-ctx.Done():
			if !l.resolved {
				l.resolve(l.buildNodesResult())
			}
			if len(l.pending) == 0 {
				return l.result, nil
			}
			// Drain remaining in-flight completions without launching
			// new work, so their goroutines never block on a send with
			// nobody left to receive it.
			c := <-l.completions
			l.handleCompletion(ctx, c)
		}
	}
}

func (l *lookup) launchMore(ctx context.Context) {
	if l.resolved {
		return
	}
	for _, h := range l.allSeen {
		if len(l.pending) >= l.maxInFlight {
			return
		}
		key := string(h.Contact.Key)
		if _, done := l.queryState[key]; done {
			continue
		}
		if _, inFlight := l.pending[key]; inFlight {
			continue
		}
		l.launch(ctx, h)
	}
}

func (l *lookup) launch(ctx context.Context, candidate Helper) {
	queryCtx, cancel := context.WithTimeout(ctx, l.queryTimeout)
	key := string(candidate.Contact.Key)
	l.pending[key] = cancel

	if candidate.Contact.Key.Equal(l.self) {
		// The seed step always offers self as a candidate (findClosest
		// includes self). Answering for ourselves never goes over the
		// wire: it is the same local lookup the dispatch layer would do
		// for a real inbound RPC, so a solo peer can still resolve
		// locate_nodes against its own table.
		go func() {
			if l.kind == findValueKind && l.storage != nil {
				if v, ok := l.storage.RetrieveLocally(l.target); ok {
					l.completions <- completion{candidate: candidate, value: v}
					return
				}
			}
			nodes := l.table.FindClosest(l.target, l.k)
			l.completions <- completion{candidate: candidate, nodes: nodes}
		}()
		return
	}

	go func() {
		switch l.kind {
		case findValueKind:
			res, err := l.network.FindValue(queryCtx, candidate.Contact, l.target)
			if l.stats != nil {
				l.stats.RecordRPCSent("find_value")
			}
			if err == nil && res != nil && res.Value != nil {
				l.completions <- completion{candidate: candidate, value: res.Value}
				return
			}
			var nodes []Helper
			if res != nil {
				nodes = res.Nodes
			}
			l.completions <- completion{candidate: candidate, err: err, nodes: nodes}
		default:
			nodes, err := l.network.FindNodes(queryCtx, candidate.Contact, l.target)
			if l.stats != nil {
				l.stats.RecordRPCSent("find_nodes")
			}
			l.completions <- completion{candidate: candidate, err: err, nodes: nodes}
		}
	}()
}

func (l *lookup) handleCompletion(ctx context.Context, c completion) {
	key := string(c.candidate.Contact.Key)
	if cancel, ok := l.pending[key]; ok {
		cancel()
		delete(l.pending, key)
	}

	if l.resolved {
		// Late-arriving response after resolution; discarded per the
		// lookup's idempotent-termination guarantee.
		return
	}

	switch {
	case errors.Is(c.err, context.DeadlineExceeded), errors.Is(c.err, ErrQueryTimeout):
		l.queryState[key] = statusTimedOut

	case c.err != nil:
		l.queryState[key] = statusDisconnected
		l.table.RemoveContact(c.candidate.Contact)
		if errors.Is(c.err, ErrTargetDisconnect) {
			go l.network.Disconnect(c.candidate.Contact)
		}

	case c.value != nil:
		l.queryState[key] = statusResponded
		l.responders = append(l.responders, c.candidate)
		l.touchResponder(c.candidate)
		l.resolveValue(c.candidate, c.value)
		return

	default:
		l.queryState[key] = statusResponded
		l.responders = append(l.responders, c.candidate)
		l.noValueResponses = append(l.noValueResponses, c.candidate)
		l.touchResponder(c.candidate)
		l.mergeNewContacts(c.candidate, c.nodes)
	}

	if l.checkTerminate() {
		l.resolve(l.buildNodesResult())
		return
	}
	l.launchMore(ctx)
}

// touchResponder feeds a candidate that just answered live back into the
// routing table. A self-completion (the local FindClosest short-circuit
// in launch) is harmless to pass through here: RoutingTable.AddContact
// rejects self on its own.
func (l *lookup) touchResponder(responder Helper) {
	if l.onResponder != nil {
		l.onResponder(responder.Contact)
	}
}

func (l *lookup) mergeNewContacts(from Helper, nodes []Helper) {
	newCount := 0
	for _, n := range nodes {
		if n.Contact.Key.Equal(l.self) {
			continue
		}
		key := string(n.Contact.Key)
		if l.keysSeen[key] {
			continue
		}
		clone := n.Contact.Clone()
		clone.Sponsor = from.Contact.Key.clone()
		helper := Helper{Contact: clone, Distance: Distance(l.target, n.Contact.Key)}
		l.keysSeen[key] = true
		l.allSeen = append(l.allSeen, helper)
		newCount++
	}

	if newCount > 0 {
		sortHelpers(l.allSeen)
		l.emptyStreak = 0
		l.maxInFlight = l.alpha
		return
	}

	l.emptyStreak++
	if l.emptyStreak >= l.alpha {
		l.maxInFlight = l.k
	}
}

// checkTerminate implements termination rules (b) and (c): either the k
// closest entries of all_seen are all classified (terminal), or there is
// nothing left pending or unqueried anywhere in all_seen.
func (l *lookup) checkTerminate() bool {
	width := l.k
	if width > len(l.allSeen) {
		width = len(l.allSeen)
	}

	allClassified := width > 0
	anyOutstanding := false
	for i, h := range l.allSeen {
		key := string(h.Contact.Key)
		_, terminal := l.queryState[key]
		_, inFlight := l.pending[key]

		if i < width && !terminal {
			allClassified = false
		}
		if !terminal && !inFlight {
			anyOutstanding = true
		}
	}

	if allClassified {
		return true
	}
	if len(l.pending) == 0 && !anyOutstanding {
		return true
	}
	return false
}

func (l *lookup) resolveValue(responder Helper, value []byte) {
	cacheTarget := l.opportunisticCacheTarget()
	if cacheTarget != nil {
		go func() {
			storeCtx, cancel := context.WithTimeout(context.Background(), l.queryTimeout)
			defer cancel()
			if err := l.network.Store(storeCtx, cacheTarget.Contact, l.target, value); err != nil {
				logrus.WithFields(logrus.Fields{
					"component": "lookup",
					"target":    l.target.String(),
					"peer":      cacheTarget.Contact.Key.String(),
					"error":     err.Error(),
				}).Debug("opportunistic cache store failed")
			}
		}()
	}

	l.resolve(LookupResult{Value: value, Responder: &responder})
}

// opportunisticCacheTarget returns the closest responder known, from its
// own reply, not to already hold the value — the peer the lookup caches
// the value onto once a hit is found elsewhere.
func (l *lookup) opportunisticCacheTarget() *Helper {
	if len(l.noValueResponses) == 0 {
		return nil
	}
	sortHelpers(l.noValueResponses)
	best := l.noValueResponses[0]
	return &best
}

func (l *lookup) buildNodesResult() LookupResult {
	return LookupResult{Nodes: l.truncatedResponders(l.includeSelf)}
}

func (l *lookup) truncatedResponders(includeSelf bool) []Helper {
	responders := make([]Helper, len(l.responders))
	copy(responders, l.responders)
	if includeSelf && !l.hasResponder(l.self) {
		responders = append(responders, Helper{Contact: NewContact(l.self, "", nil), Distance: Distance(l.target, l.self)})
	}
	sortHelpers(responders)
	if len(responders) > l.k {
		responders = responders[:l.k]
	}
	return responders
}

// hasResponder reports whether key already answered live during this
// lookup. The seed step always offers self as a candidate (table.FindClosest
// includes self), and launch always resolves that candidate locally, so self
// is already in l.responders by the time buildNodesResult runs; includeSelf
// must not append a second copy on top of it.
func (l *lookup) hasResponder(key Key) bool {
	for _, r := range l.responders {
		if r.Contact.Key.Equal(key) {
			return true
		}
	}
	return false
}

func (l *lookup) resolve(result LookupResult) {
	l.resolved = true
	l.result = result
}
