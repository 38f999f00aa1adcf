// Package infra implements infrastructure concerns (process inspection,
// persistence, hashing, notification delivery).
package infra

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/accountd/internal/domain"
)

// browserNames identifies the processes treated as web browsers.
var browserNames = []string{
	"chrome",
	"firefox",
	"msedge",
	"opera",
	"brave",
	"vivaldi",
	"safari",
}

// ProcessInspectorImpl implements domain.ProcessInspector using gopsutil.
type ProcessInspectorImpl struct{}

// NewProcessInspector creates a new process inspector.
func NewProcessInspector() domain.ProcessInspector {
	return &ProcessInspectorImpl{}
}

// ListProcesses returns all live processes with name, path and PID.
// Processes that exit mid-enumeration are skipped.
func (pi *ProcessInspectorImpl) ListProcesses(ctx context.Context) ([]domain.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // process may have exited
		}
		exe, _ := p.Exe() // path is optional; name matching still works

		infos = append(infos, domain.ProcessInfo{
			Name: name,
			Path: exe,
			PID:  p.Pid,
		})
	}
	return infos, nil
}

// ListBrowserProcesses returns the live processes whose name matches
// a known browser.
func (pi *ProcessInspectorImpl) ListBrowserProcesses(ctx context.Context) ([]domain.ProcessInfo, error) {
	all, err := pi.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}

	var browsers []domain.ProcessInfo
	for _, info := range all {
		if isBrowser(info.Name) {
			browsers = append(browsers, info)
		}
	}
	return browsers, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pi *ProcessInspectorImpl) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func isBrowser(name string) bool {
	lower := strings.ToLower(name)
	for _, b := range browserNames {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}

// Ensure ProcessInspectorImpl implements domain.ProcessInspector.
var _ domain.ProcessInspector = (*ProcessInspectorImpl)(nil)
