// Package correlate joins the kernel socket table, the host process
// inventory and the container runtime state into a per-container
// connection report. The three sources are read-only snapshots combined
// by pure logic; all the policy (filtering, membership claims, soft
// drops) lives here.
package correlate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/minerops/stratum-counter/pkg/containers"
	"github.com/minerops/stratum-counter/pkg/filter"
	"github.com/minerops/stratum-counter/pkg/netstat"
	"github.com/minerops/stratum-counter/pkg/procs"
)

// AddressSide selects which end of a connection the port filter applies to.
type AddressSide int

const (
	LocalSide AddressSide = iota
	RemoteSide
)

// SocketSource is the socket table enumeration capability.
type SocketSource interface {
	ReadConnections() ([]netstat.Connection, error)
}

// ProcessSnapshot answers ownership questions for one point in time.
type ProcessSnapshot interface {
	OwnerOf(inode uint64) (procs.Process, bool)
	Parents() map[int]int
}

// ProcessSource takes the process inventory snapshot. It is queried after
// the socket snapshot to keep the exit-race window small.
type ProcessSource interface {
	Snapshot() (ProcessSnapshot, error)
}

// ContainerSource lists running containers and tests process membership.
type ContainerSource interface {
	ListRunningContainers(ctx context.Context) ([]*containers.Container, error)
	PropagateToChildren(parents map[int]int)
	Contains(c *containers.Container, p procs.Process) bool
}

// Options configure one correlation pass.
type Options struct {
	Port  uint16
	State netstat.TCPState
	Side  AddressSide
	Expr  *filter.Filter // optional extra predicate, may be nil
}

// ContainerConnections is one report entry: a container and its matching
// connections in discovery order.
type ContainerConnections struct {
	Container   *containers.Container
	Connections []netstat.Connection
}

// Report is the correlation result for one snapshot. Containers appear in
// first-seen order; containers without matching connections are omitted.
type Report struct {
	Port     uint16
	State    netstat.TCPState
	Entries  []ContainerConnections
	Warnings []string
}

// Correlate takes one snapshot from each source and produces the
// per-container report. Sockets and containers are fetched concurrently;
// the process inventory is read afterwards, and only when connections
// survived the filter. There are no retries: an unreachable source fails
// the whole pass rather than producing a partial snapshot.
func Correlate(ctx context.Context, sockets SocketSource, processes ProcessSource, registry ContainerSource, opts Options) (*Report, error) {
	if opts.State == 0 {
		opts.State = netstat.Established
	}

	var (
		conns []netstat.Connection
		list  []*containers.Container
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		conns, err = sockets.ReadConnections()
		return err
	})
	g.Go(func() error {
		var err error
		list, err = registry.ListRunningContainers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Port: opts.Port, State: opts.State}

	// Filter before any process lookups; hosts routinely carry thousands
	// of sockets and only a handful match
	matched, err := filterConnections(conns, opts)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return report, nil
	}

	snap, err := processes.Snapshot()
	if err != nil {
		return nil, err
	}
	registry.PropagateToChildren(snap.Parents())

	groups := make(map[string]int) // container ID -> index into Entries
	for _, conn := range matched {
		owner, ok := snap.OwnerOf(conn.Inode)
		if !ok {
			// Process exited between the socket and process scans
			continue
		}

		claimed := claim(registry, list, owner, report)
		if claimed == nil {
			// Host-level process, not containerized
			continue
		}

		idx, ok := groups[claimed.ID]
		if !ok {
			idx = len(report.Entries)
			groups[claimed.ID] = idx
			report.Entries = append(report.Entries, ContainerConnections{Container: claimed})
		}
		report.Entries[idx].Connections = append(report.Entries[idx].Connections, conn)
	}

	return report, nil
}

// filterConnections applies the port, state and optional expression
// filters, preserving discovery order.
func filterConnections(conns []netstat.Connection, opts Options) ([]netstat.Connection, error) {
	var matched []netstat.Connection
	for _, conn := range conns {
		port := conn.LocalPort
		if opts.Side == RemoteSide {
			port = conn.RemotePort
		}
		if port != opts.Port || conn.State != opts.State {
			continue
		}
		if opts.Expr != nil {
			ok, err := opts.Expr.Match(conn)
			if err != nil {
				return nil, fmt.Errorf("filter expression: %w", err)
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, conn)
	}
	return matched, nil
}

// claim finds the container owning the process. Membership should be a
// partition, but the test is intentionally defensive: every container is
// checked, the first match in listing order wins, and extra matches are
// recorded as a consistency warning rather than an error.
func claim(registry ContainerSource, list []*containers.Container, p procs.Process, report *Report) *containers.Container {
	var claimed *containers.Container
	for _, c := range list {
		if !registry.Contains(c, p) {
			continue
		}
		if claimed == nil {
			claimed = c
			continue
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"pid %d matched both container %s and %s; keeping %s",
			p.PID, claimed.ID, c.ID, claimed.ID))
	}
	return claimed
}
