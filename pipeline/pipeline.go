// Package pipeline builds process object graphs from YAML descriptions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/AustinTapp/FAST"
	"github.com/AustinTapp/FAST/log"
)

const pollInterval = time.Millisecond

// Pipeline is a connected graph of nodes.
type Pipeline struct {
	Name        string
	Description string

	nodes     map[string]fast.Node
	order     []string
	terminals []string
	log       logrus.FieldLogger
}

// Build constructs the nodes of the description with the registry,
// applies their attributes and connects them. Options are passed to
// every node.
func Build(d *Description, r *Registry, options ...fast.Option) (*Pipeline, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		Name:        d.Name,
		Description: d.Description,
		nodes:       make(map[string]fast.Node, len(d.ProcessObjects)),
		log:         log.GetLogger().WithField("pipeline", d.Name),
	}
	if err := p.build(d, r, options); err != nil {
		p.close()
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"nodes":     len(p.order),
		"terminals": p.terminals,
	}).Debug("built")
	return p, nil
}

func (p *Pipeline) build(d *Description, r *Registry, options []fast.Option) error {
	for _, o := range d.ProcessObjects {
		n, err := r.New(o.Type, o.ID, options...)
		if err != nil {
			return err
		}
		p.nodes[o.ID] = n
		p.order = append(p.order, o.ID)
		if err := n.Node().SetAttributes(o.Attributes); err != nil {
			return err
		}
	}

	producers := make(map[string]struct{})
	for _, c := range d.Connections {
		from, err := ParseEndpoint(c.From)
		if err != nil {
			return fast.Configurationf(d.Name, "%v", err)
		}
		to, err := ParseEndpoint(c.To)
		if err != nil {
			return fast.Configurationf(d.Name, "%v", err)
		}
		port := p.nodes[from.ID].Node().OutputPort(from.Port)
		if port == nil {
			return fast.Configurationf(from.ID, "output %d is not declared", from.Port)
		}
		if err := p.nodes[to.ID].Node().SetInputConnection(to.Port, port); err != nil {
			return err
		}
		producers[from.ID] = struct{}{}
	}
	for _, id := range p.order {
		if _, ok := producers[id]; !ok {
			p.terminals = append(p.terminals, id)
		}
	}
	return nil
}

// Node returns the node with the id.
func (p *Pipeline) Node(id string) (fast.Node, bool) {
	n, ok := p.nodes[id]
	return n, ok
}

// Nodes returns the node ids in declaration order.
func (p *Pipeline) Nodes() []string {
	return append([]string(nil), p.order...)
}

// Terminals returns the ids of nodes without consumers.
func (p *Pipeline) Terminals() []string {
	return append([]string(nil), p.terminals...)
}

// Streamers returns the streamer nodes by id.
func (p *Pipeline) Streamers() map[string]*fast.Streamer {
	streamers := make(map[string]*fast.Streamer)
	for id, n := range p.nodes {
		if s := fast.Streamers(n); len(s) > 0 {
			streamers[id] = s[0]
		}
	}
	return streamers
}

// Update updates every terminal node. Upstream nodes are updated on
// demand.
func (p *Pipeline) Update(ctx context.Context) error {
	for _, id := range p.terminals {
		if err := p.nodes[id].Node().Update(ctx); err != nil {
			return fmt.Errorf("updating %s: %w", id, err)
		}
	}
	return nil
}

// Run updates the pipeline until frames updates executed a terminal node,
// every streamer finished or ctx is done. Zero frames means no limit.
// The number of executed updates is returned.
func (p *Pipeline) Run(ctx context.Context, frames int) (int, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var done int
	for frames == 0 || done < frames {
		finished, failure := p.finished()
		before := p.executions()
		err := p.Update(ctx)
		switch {
		case errors.Is(err, fast.ErrStreamStopped):
			p.log.WithField("updates", done).Debug("stream ended")
			return done, nil
		case err != nil:
			return done, err
		}
		if p.executions() > before {
			done++
			continue
		}
		if finished {
			return done, failure
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return done, ctx.Err()
		}
	}
	return done, nil
}

// finished reports whether no streamer will publish again. The error is
// the first streamer failure.
func (p *Pipeline) finished() (bool, error) {
	var failure error
	for _, id := range p.order {
		for _, s := range fast.Streamers(p.nodes[id]) {
			switch s.State() {
			case fast.Failed:
				if failure == nil {
					failure = fmt.Errorf("streamer %s: %w", id, s.Err())
				}
			case fast.Stopped, fast.ReachedEnd:
			default:
				return false, nil
			}
		}
	}
	return true, failure
}

func (p *Pipeline) executions() uint64 {
	var n uint64
	for _, id := range p.terminals {
		n += p.nodes[id].Node().Executions()
	}
	return n
}

// Stop stops all streamers concurrently and closes every node.
func (p *Pipeline) Stop(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	streamers := p.Streamers()
	ids := make([]string, 0, len(streamers))
	for id := range streamers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		id, s := id, streamers[id]
		g.Go(func() error {
			if err := s.Stop(ctx); err != nil {
				return fmt.Errorf("stopping %s: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()
	p.close()
	if err != nil {
		return err
	}
	p.log.Debug("stopped")
	return nil
}

func (p *Pipeline) close() {
	for _, id := range p.order {
		p.nodes[id].Node().Close()
	}
}
