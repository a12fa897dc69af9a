// SPDX-License-Identifier: MPL-2.0

package portguard

import (
	"context"
	"fmt"

	"github.com/newrev/newrev/pkg/types"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

const statusListen = "LISTEN"

// LookupOwner finds the process listening on port via the OS connection
// table. Reading other users' sockets may need elevated privileges; in that
// case the returned Owner has a PID but no name, or is zero.
func LookupOwner(ctx context.Context, port types.ListenPort) (Owner, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return Owner{}, fmt.Errorf("list connections: %w", err)
	}

	for _, c := range conns {
		if c.Status != statusListen || c.Laddr.Port != uint32(port) || c.Pid == 0 {
			continue
		}
		owner := Owner{PID: c.Pid}
		if p, err := process.NewProcessWithContext(ctx, c.Pid); err == nil {
			if name, err := p.NameWithContext(ctx); err == nil {
				owner.Name = name
			}
		}
		return owner, nil
	}
	return Owner{}, nil
}
