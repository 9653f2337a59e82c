// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	DefaultRevokingThreshold = 0.9
	DefaultRevokingTarget    = 0.5
	DefaultCheckInterval     = time.Second
)

// DefaultConfig returns a configuration for nodeBytes with the default
// revoking fractions and check interval.
func DefaultConfig(nodeBytes int64) Config {
	return Config{
		NodeBytes:         nodeBytes,
		RevokingThreshold: DefaultRevokingThreshold,
		RevokingTarget:    DefaultRevokingTarget,
		CheckInterval:     DefaultCheckInterval,
	}
}

// Config controls a NodePool.
type Config struct {
	// NodeBytes is the capacity shared by every query on the node.
	NodeBytes int64

	// QueryMaxBytes is the hard ceiling for a single query. Zero means
	// NodeBytes.
	QueryMaxBytes int64

	// RevokingThreshold is the fraction of NodeBytes at which revocation
	// requests begin. Zero revokes whenever anything is held.
	RevokingThreshold float64

	// RevokingTarget is the fraction of NodeBytes that revocation aims to
	// bring usage down to. Zero asks participants to free everything.
	RevokingTarget float64

	// CheckInterval is the period of the background revocation check.
	CheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueryMaxBytes <= 0 || c.QueryMaxBytes > c.NodeBytes {
		c.QueryMaxBytes = c.NodeBytes
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NodeBytes <= 0 {
		return errors.New("node memory must be positive")
	}
	if c.RevokingThreshold < 0 || c.RevokingThreshold > 1 {
		return fmt.Errorf("revoking threshold must be in [0, 1], got %v", c.RevokingThreshold)
	}
	if c.RevokingTarget < 0 || c.RevokingTarget > 1 {
		return fmt.Errorf("revoking target must be in [0, 1], got %v", c.RevokingTarget)
	}
	if c.RevokingTarget > c.RevokingThreshold {
		return fmt.Errorf("revoking target %v must not exceed revoking threshold %v", c.RevokingTarget, c.RevokingThreshold)
	}
	return nil
}

// NodePool is a Pool shared by all operators on a node. Reservations are
// checked synchronously against the per-query and per-node ceilings; a
// background loop, nudged whenever a reservation grows, requests revocation
// from the participants holding the most revocable memory once usage
// reaches the revoking threshold.
type NodePool struct {
	cfg Config

	mu        sync.Mutex
	used      int64
	perQuery  map[string]int64
	members   map[*reservation]struct{}
	requested int64 // revocations asked for and not yet observed as freed
	started   bool

	startOnce sync.Once
	stopOnce  sync.Once
	nudge     chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
}

var _ Pool = (*NodePool)(nil)

// NewNodePool creates a pool. Call Start to enable background revocation.
func NewNodePool(cfg Config) (*NodePool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &NodePool{
		cfg:      cfg,
		perQuery: make(map[string]int64),
		members:  make(map[*reservation]struct{}),
		nudge:    make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Config returns the effective configuration.
func (p *NodePool) Config() Config { return p.cfg }

// Start begins background revocation.
func (p *NodePool) Start() {
	p.startOnce.Do(func() {
		p.mu.Lock()
		p.started = true
		p.mu.Unlock()
		go p.revokeLoop()
	})
}

// Stop halts background revocation and waits for the loop to exit.
func (p *NodePool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if started {
			<-p.done
		}
	})
}

// Used returns the bytes reserved across the node.
func (p *NodePool) Used() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// QueryUsed returns the bytes reserved by queryID.
func (p *NodePool) QueryUsed(queryID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perQuery[queryID]
}

// Register adds a participant.
func (p *NodePool) Register(queryID string, r Revocable) Reservation {
	res := &reservation{pool: p, queryID: queryID, revocable: r}
	p.mu.Lock()
	p.members[res] = struct{}{}
	p.mu.Unlock()
	return res
}

func (p *NodePool) set(ctx context.Context, res *reservation, bytes int64) error {
	if bytes < 0 {
		bytes = 0
	}

	p.mu.Lock()
	if res.closed {
		p.mu.Unlock()
		return errors.New("reservation is closed")
	}
	delta := bytes - res.bytes
	if delta > 0 {
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return err
		}
		queryTotal := p.perQuery[res.queryID] + delta
		if queryTotal > p.cfg.QueryMaxBytes {
			err := &QueryExceededError{
				QueryID:   res.queryID,
				Kind:      LimitPerQuery,
				Limit:     p.cfg.QueryMaxBytes,
				Reserved:  p.perQuery[res.queryID],
				Requested: delta,
			}
			p.mu.Unlock()
			return err
		}
		if p.used+delta > p.cfg.NodeBytes {
			err := &QueryExceededError{
				QueryID:   res.queryID,
				Kind:      LimitPerNode,
				Limit:     p.cfg.NodeBytes,
				Reserved:  p.used,
				Requested: delta,
			}
			p.mu.Unlock()
			return err
		}
	}
	p.applyLocked(res, delta)
	p.mu.Unlock()

	if delta > 0 {
		select {
		case p.nudge <- struct{}{}:
		default:
		}
	}
	return nil
}

// applyLocked moves res by delta. Any decrease is credited against
// outstanding revocation requests.
func (p *NodePool) applyLocked(res *reservation, delta int64) {
	res.bytes += delta
	p.used += delta
	p.perQuery[res.queryID] += delta
	if p.perQuery[res.queryID] == 0 {
		delete(p.perQuery, res.queryID)
	}
	if delta < 0 && res.requested > 0 {
		credit := min(-delta, res.requested)
		res.requested -= credit
		p.requested -= credit
	}
}

func (p *NodePool) release(res *reservation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res.closed {
		return
	}
	p.applyLocked(res, -res.bytes)
	p.requested -= res.requested
	res.requested = 0
	res.closed = true
	delete(p.members, res)
}

type candidate struct {
	res       *reservation
	revocable int64
}

// CheckAndRevoke requests revocation when usage is at or above the revoking
// threshold, asking the participants with the most revocable memory first
// until the expected usage is at or below the revoking target. It returns
// the number of bytes participants promised to free.
func (p *NodePool) CheckAndRevoke() int64 {
	p.mu.Lock()
	capacity := float64(p.cfg.NodeBytes)
	used := p.used
	if float64(used) < capacity*p.cfg.RevokingThreshold {
		p.mu.Unlock()
		return 0
	}
	bytesToFree := used - int64(capacity*p.cfg.RevokingTarget) - p.requested
	if bytesToFree <= 0 {
		p.mu.Unlock()
		return 0
	}
	candidates := make([]candidate, 0, len(p.members))
	for res := range p.members {
		if res.revocable == nil || res.requested > 0 {
			continue
		}
		candidates = append(candidates, candidate{res: res})
	}
	p.mu.Unlock()

	// RevocableBytes reads participant state, so call it outside the lock.
	for i := range candidates {
		candidates[i].revocable = candidates[i].res.revocable.RevocableBytes()
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		switch {
		case a.revocable > b.revocable:
			return -1
		case a.revocable < b.revocable:
			return 1
		}
		return 0
	})

	slog.Debug("Memory pressure detected, requesting revocation",
		slog.Int64("used", used),
		slog.Int64("bytesToFree", bytesToFree),
		slog.Int("candidates", len(candidates)))

	var totalPromised int64
	for _, c := range candidates {
		remaining := bytesToFree - totalPromised
		if remaining <= 0 {
			break
		}
		if c.revocable <= 0 {
			continue
		}
		promised := c.res.revocable.RequestRevocation(remaining)
		if promised <= 0 {
			continue
		}
		totalPromised += promised

		p.mu.Lock()
		if !c.res.closed {
			c.res.requested += promised
			p.requested += promised
		}
		p.mu.Unlock()
	}

	if totalPromised > 0 {
		revocationRequestsCounter.Add(context.Background(), 1)
		revocationBytesCounter.Add(context.Background(), totalPromised)
	}
	return totalPromised
}

func (p *NodePool) revokeLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.CheckAndRevoke()
		case <-p.nudge:
			p.CheckAndRevoke()
		}
	}
}

type reservation struct {
	pool      *NodePool
	queryID   string
	revocable Revocable

	// guarded by pool.mu
	bytes     int64
	requested int64
	closed    bool
}

func (r *reservation) SetBytes(ctx context.Context, bytes int64) error {
	return r.pool.set(ctx, r, bytes)
}

func (r *reservation) RevocationSettled() {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	r.pool.requested -= r.requested
	r.requested = 0
}

// Requested returns revocation bytes promised and not yet freed.
func (p *NodePool) Requested() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requested
}

func (r *reservation) Bytes() int64 {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	return r.bytes
}

func (r *reservation) Close() {
	r.pool.release(r)
}
