// Package netstat reads the kernel TCP socket table through procfs.
package netstat

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/procfs"
)

const defaultProcPath = "/proc"

// ErrEnumeration indicates the kernel socket table could not be read at
// all (missing procfs, insufficient privilege). It is fatal for the
// invocation.
var ErrEnumeration = errors.New("cannot enumerate kernel socket table")

// Connection is one row of the socket table at scan time. Immutable once
// read. The json tags define the output schema for --json.
type Connection struct {
	LocalAddr  string   `json:"local_addr" cel:"localAddr"`
	LocalPort  uint16   `json:"local_port" cel:"localPort"`
	RemoteAddr string   `json:"remote_addr" cel:"remoteAddr"`
	RemotePort uint16   `json:"remote_port" cel:"remotePort"`
	State      TCPState `json:"state" cel:"state"`
	Inode      uint64   `json:"-" cel:"inode"`
}

// Reader enumerates TCP sockets from a procfs mount point.
type Reader struct {
	procPath string
}

// NewReader creates a Reader for the given procfs mount point.
// An empty path means /proc.
func NewReader(procPath string) *Reader {
	if procPath == "" {
		procPath = defaultProcPath
	}
	return &Reader{procPath: procPath}
}

// ReadConnections returns all TCP sockets currently known to the kernel,
// both ipv4 and ipv6, in no particular order. No filtering happens here;
// that is the correlator's job.
func (r *Reader) ReadConnections() ([]Connection, error) {
	fs, err := procfs.NewFS(r.procPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	tcp, err := fs.NetTCP()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	// tcp6 can legitimately be absent on ipv6-less kernels
	tcp6, err := fs.NetTCP6()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	conns := make([]Connection, 0, len(tcp)+len(tcp6))
	for _, line := range append(tcp, tcp6...) {
		conns = append(conns, Connection{
			LocalAddr:  line.LocalAddr.String(),
			LocalPort:  uint16(line.LocalPort),
			RemoteAddr: line.RemAddr.String(),
			RemotePort: uint16(line.RemPort),
			State:      TCPState(line.St),
			Inode:      line.Inode,
		})
	}

	return conns, nil
}
