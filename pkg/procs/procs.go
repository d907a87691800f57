// Package procs builds a point-in-time inventory of host processes:
// which process owns which socket inode, each process's cgroup, and the
// parent/child relationships used for container membership propagation.
package procs

import (
	"fmt"
	"strconv"

	"github.com/prometheus/procfs"
)

const defaultProcPath = "/proc"

// Process is the minimal view of a host process needed to link it to a
// container. Valid only for the snapshot it came from; PIDs are recycled
// by the kernel and must never be cached across scans.
type Process struct {
	PID    int
	PPID   int
	Comm   string
	Cgroup string
}

// Inventory scans a procfs mount point.
type Inventory struct {
	procPath string
}

// NewInventory creates an Inventory for the given procfs mount point.
// An empty path means /proc.
func NewInventory(procPath string) *Inventory {
	if procPath == "" {
		procPath = defaultProcPath
	}
	return &Inventory{procPath: procPath}
}

// Snapshot holds the result of one pass over /proc.
type Snapshot struct {
	byPID   map[int]Process
	byInode map[uint64]int
	parents map[int]int
}

// Snapshot walks every process once and indexes socket inodes, cgroups
// and parent PIDs. Processes that vanish or deny access mid-walk are
// skipped; they surface later as not-found lookups, never as errors.
func (inv *Inventory) Snapshot() (*Snapshot, error) {
	fs, err := procfs.NewFS(inv.procPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open procfs at %s: %w", inv.procPath, err)
	}

	all, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate processes: %w", err)
	}

	snap := &Snapshot{
		byPID:   make(map[int]Process, len(all)),
		byInode: make(map[uint64]int),
		parents: make(map[int]int, len(all)),
	}

	for _, proc := range all {
		p := Process{PID: proc.PID}

		if stat, err := proc.Stat(); err == nil {
			p.PPID = stat.PPID
			p.Comm = stat.Comm
		}
		if cgroups, err := proc.Cgroups(); err == nil {
			p.Cgroup = pickCgroup(cgroups)
		}

		fdInfos, err := proc.FileDescriptorsInfo()
		if err == nil {
			for _, fdInfo := range fdInfos {
				inode, err := strconv.ParseUint(fdInfo.Ino, 10, 64)
				if err != nil {
					continue
				}
				if _, taken := snap.byInode[inode]; !taken {
					snap.byInode[inode] = proc.PID
				}
			}
		}

		snap.byPID[p.PID] = p
		if p.PPID > 0 {
			snap.parents[p.PID] = p.PPID
		}
	}

	return snap, nil
}

// pickCgroup chooses the most useful cgroup path: the unified (v2) entry
// when present, otherwise the first hierarchy listed.
func pickCgroup(cgroups []procfs.Cgroup) string {
	for _, cg := range cgroups {
		if cg.HierarchyID == 0 {
			return cg.Path
		}
	}
	if len(cgroups) > 0 {
		return cgroups[0].Path
	}
	return ""
}

// Resolve returns the process with the given PID, if it was alive during
// the snapshot.
func (s *Snapshot) Resolve(pid int) (Process, bool) {
	p, ok := s.byPID[pid]
	return p, ok
}

// OwnerOf returns the process holding the given socket inode. A false
// return means the owner exited between the socket scan and the process
// scan, or its fd table was unreadable.
func (s *Snapshot) OwnerOf(inode uint64) (Process, bool) {
	pid, ok := s.byInode[inode]
	if !ok {
		return Process{}, false
	}
	return s.Resolve(pid)
}

// Parents returns the PID to parent-PID map for the snapshot.
func (s *Snapshot) Parents() map[int]int {
	return s.parents
}
