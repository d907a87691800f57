package correlate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerops/stratum-counter/pkg/containers"
	"github.com/minerops/stratum-counter/pkg/filter"
	"github.com/minerops/stratum-counter/pkg/netstat"
	"github.com/minerops/stratum-counter/pkg/procs"
)

type fakeSockets struct {
	conns []netstat.Connection
	err   error
}

func (f fakeSockets) ReadConnections() ([]netstat.Connection, error) {
	return f.conns, f.err
}

type fakeSnapshot struct {
	owners  map[uint64]procs.Process
	parents map[int]int
}

func (f fakeSnapshot) OwnerOf(inode uint64) (procs.Process, bool) {
	p, ok := f.owners[inode]
	return p, ok
}

func (f fakeSnapshot) Parents() map[int]int {
	return f.parents
}

type fakeProcesses struct {
	snap fakeSnapshot
	err  error
	// fails the test if the inventory is scanned at all
	forbidden *testing.T
}

func (f fakeProcesses) Snapshot() (ProcessSnapshot, error) {
	if f.forbidden != nil {
		f.forbidden.Fatal("process inventory scanned although no connection survived the filter")
	}
	return f.snap, f.err
}

type fakeRegistry struct {
	list []*containers.Container
	err  error
	// pid -> container IDs that claim it
	membership map[int][]string
}

func (f fakeRegistry) ListRunningContainers(ctx context.Context) ([]*containers.Container, error) {
	return f.list, f.err
}

func (f fakeRegistry) PropagateToChildren(parents map[int]int) {}

func (f fakeRegistry) Contains(c *containers.Container, p procs.Process) bool {
	for _, id := range f.membership[p.PID] {
		if id == c.ID {
			return true
		}
	}
	return false
}

func conn(localPort uint16, state netstat.TCPState, inode uint64) netstat.Connection {
	return netstat.Connection{
		LocalAddr:  "172.17.0.2",
		LocalPort:  localPort,
		RemoteAddr: "10.0.0.5",
		RemotePort: 51234,
		State:      state,
		Inode:      inode,
	}
}

func stratumContainer() *containers.Container {
	return &containers.Container{ID: "abc123def456", FullID: "abc123def4567890", Name: "stratum-server", Runtime: "docker"}
}

func TestCorrelateSingleConnection(t *testing.T) {
	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{conn(3333, netstat.Established, 500)}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{500: {PID: 100}}}},
		fakeRegistry{
			list:       []*containers.Container{stratumContainer()},
			membership: map[int][]string{100: {"abc123def456"}},
		},
		Options{Port: 3333},
	)

	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "stratum-server", report.Entries[0].Container.Name)
	assert.Equal(t, "abc123def456", report.Entries[0].Container.ID)
	require.Len(t, report.Entries[0].Connections, 1)
	assert.Equal(t, uint16(3333), report.Entries[0].Connections[0].LocalPort)
	assert.Empty(t, report.Warnings)
}

func TestCorrelateNoMatchIsEmptyNotError(t *testing.T) {
	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{conn(3333, netstat.Established, 500)}},
		fakeProcesses{forbidden: t},
		fakeRegistry{list: []*containers.Container{stratumContainer()}},
		Options{Port: 4444},
	)

	require.NoError(t, err)
	assert.Empty(t, report.Entries)
	assert.Equal(t, uint16(4444), report.Port)
}

func TestCorrelateVanishedProcessDropped(t *testing.T) {
	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{conn(3333, netstat.Established, 500)}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{}}},
		fakeRegistry{
			list:       []*containers.Container{stratumContainer()},
			membership: map[int][]string{100: {"abc123def456"}},
		},
		Options{Port: 3333},
	)

	require.NoError(t, err)
	assert.Empty(t, report.Entries)
}

func TestCorrelateRegistryUnavailableIsFatal(t *testing.T) {
	_, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{conn(3333, netstat.Established, 500)}},
		fakeProcesses{},
		fakeRegistry{err: containers.ErrUnavailable},
		Options{Port: 3333},
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, containers.ErrUnavailable)
}

func TestCorrelateSocketEnumerationIsFatal(t *testing.T) {
	_, err := Correlate(context.Background(),
		fakeSockets{err: netstat.ErrEnumeration},
		fakeProcesses{},
		fakeRegistry{list: []*containers.Container{stratumContainer()}},
		Options{Port: 3333},
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, netstat.ErrEnumeration)
}

func TestCorrelateGroupsPreserveDiscoveryOrder(t *testing.T) {
	first := conn(3333, netstat.Established, 500)
	second := conn(3333, netstat.Established, 501)
	second.RemotePort = 40112

	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{first, second}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{
			500: {PID: 100},
			501: {PID: 101},
		}}},
		fakeRegistry{
			list:       []*containers.Container{stratumContainer()},
			membership: map[int][]string{100: {"abc123def456"}, 101: {"abc123def456"}},
		},
		Options{Port: 3333},
	)

	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	require.Len(t, report.Entries[0].Connections, 2)
	assert.Equal(t, uint16(51234), report.Entries[0].Connections[0].RemotePort)
	assert.Equal(t, uint16(40112), report.Entries[0].Connections[1].RemotePort)
}

func TestCorrelateHostProcessDropped(t *testing.T) {
	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{conn(3333, netstat.Established, 500)}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{500: {PID: 42}}}},
		fakeRegistry{
			list:       []*containers.Container{stratumContainer()},
			membership: map[int][]string{},
		},
		Options{Port: 3333},
	)

	require.NoError(t, err)
	assert.Empty(t, report.Entries)
}

func TestCorrelateAmbiguousMembershipFirstMatchWins(t *testing.T) {
	other := &containers.Container{ID: "fedcba987654", Name: "other"}

	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{conn(3333, netstat.Established, 500)}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{500: {PID: 100}}}},
		fakeRegistry{
			list:       []*containers.Container{stratumContainer(), other},
			membership: map[int][]string{100: {"abc123def456", "fedcba987654"}},
		},
		Options{Port: 3333},
	)

	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "abc123def456", report.Entries[0].Container.ID)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "abc123def456")
	assert.Contains(t, report.Warnings[0], "fedcba987654")
}

func TestCorrelateStateFilter(t *testing.T) {
	listening := conn(3333, netstat.Listen, 500)
	established := conn(3333, netstat.Established, 501)

	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{listening, established}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{
			500: {PID: 100},
			501: {PID: 100},
		}}},
		fakeRegistry{
			list:       []*containers.Container{stratumContainer()},
			membership: map[int][]string{100: {"abc123def456"}},
		},
		Options{Port: 3333, State: netstat.Listen},
	)

	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	require.Len(t, report.Entries[0].Connections, 1)
	assert.Equal(t, netstat.Listen, report.Entries[0].Connections[0].State)
}

func TestCorrelateRemoteSide(t *testing.T) {
	c := conn(54321, netstat.Established, 500)
	c.RemotePort = 3333

	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{c}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{500: {PID: 100}}}},
		fakeRegistry{
			list:       []*containers.Container{stratumContainer()},
			membership: map[int][]string{100: {"abc123def456"}},
		},
		Options{Port: 3333, Side: RemoteSide},
	)

	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	require.Len(t, report.Entries[0].Connections, 1)
}

func TestCorrelateExpressionFilter(t *testing.T) {
	near := conn(3333, netstat.Established, 500)
	far := conn(3333, netstat.Established, 501)
	far.RemoteAddr = "203.0.113.7"

	expr, err := filter.New(`conn.remoteAddr.startsWith("10.")`)
	require.NoError(t, err)

	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{near, far}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{
			500: {PID: 100},
			501: {PID: 100},
		}}},
		fakeRegistry{
			list:       []*containers.Container{stratumContainer()},
			membership: map[int][]string{100: {"abc123def456"}},
		},
		Options{Port: 3333, Expr: expr},
	)

	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	require.Len(t, report.Entries[0].Connections, 1)
	assert.Equal(t, "10.0.0.5", report.Entries[0].Connections[0].RemoteAddr)
}

func TestCorrelateIdempotent(t *testing.T) {
	sockets := fakeSockets{conns: []netstat.Connection{
		conn(3333, netstat.Established, 500),
		conn(3333, netstat.Established, 501),
	}}
	processes := fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{
		500: {PID: 100},
		501: {PID: 101},
	}}}
	registry := fakeRegistry{
		list: []*containers.Container{
			stratumContainer(),
			{ID: "fedcba987654", Name: "other"},
		},
		membership: map[int][]string{100: {"abc123def456"}, 101: {"fedcba987654"}},
	}

	first, err := Correlate(context.Background(), sockets, processes, registry, Options{Port: 3333})
	require.NoError(t, err)
	second, err := Correlate(context.Background(), sockets, processes, registry, Options{Port: 3333})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCorrelateNoDuplication(t *testing.T) {
	report, err := Correlate(context.Background(),
		fakeSockets{conns: []netstat.Connection{conn(3333, netstat.Established, 500)}},
		fakeProcesses{snap: fakeSnapshot{owners: map[uint64]procs.Process{500: {PID: 100}}}},
		fakeRegistry{
			list: []*containers.Container{
				stratumContainer(),
				{ID: "fedcba987654", Name: "other"},
			},
			membership: map[int][]string{100: {"abc123def456", "fedcba987654"}},
		},
		Options{Port: 3333},
	)

	require.NoError(t, err)
	total := 0
	for _, entry := range report.Entries {
		total += len(entry.Connections)
	}
	assert.Equal(t, 1, total)
}

func TestCorrelateDefaultsToEstablished(t *testing.T) {
	report, err := Correlate(context.Background(),
		fakeSockets{},
		fakeProcesses{forbidden: t},
		fakeRegistry{},
		Options{Port: 3333},
	)

	require.NoError(t, err)
	assert.Equal(t, netstat.Established, report.State)
}

func TestCorrelateFilterErrorSurfaces(t *testing.T) {
	expr, err := filter.New(`conn.localPort == 3333u`)
	require.NoError(t, err)

	// a failing source still beats a valid filter
	_, err = Correlate(context.Background(),
		fakeSockets{err: errors.New("boom")},
		fakeProcesses{},
		fakeRegistry{},
		Options{Port: 3333, Expr: expr},
	)
	require.Error(t, err)
}
