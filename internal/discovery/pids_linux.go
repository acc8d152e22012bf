//go:build linux

package discovery

import "github.com/ja7ad/nodeguard/pkg/system/proc"

// filterAlive drops any PID that has already exited between the docker
// daemon's top() snapshot and this call, so a stale PID never reaches CAT
// or cgroup assignment.
func filterAlive(pids []int) []int {
	alive := pids[:0:0]
	for _, p := range pids {
		if proc.Exists(p) {
			alive = append(alive, p)
		}
	}
	return alive
}
