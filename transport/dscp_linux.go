// +build linux

package transport

import (
	"golang.org/x/sys/unix"

	"github.com/pkg/errors"
)

// SetDSCP tags outgoing packets on this socket with a DiffServ code
// point, best-effort: a network that understands DSCP can prioritize
// RTPS traffic ahead of bulk data. Failure to set it is non-fatal to
// the caller. Kept behind a build tag, like the rest of this
// package's platform-specific socket options, to keep them out of
// the common path.
func (s *Socket) SetDSCP(dscp int) error {
	raw, err := s.Conn.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "transport: syscallconn")
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscp<<2)
	})
	if err != nil {
		return errors.Wrap(err, "transport: control")
	}
	return errors.Wrap(sockErr, "transport: setsockopt IP_TOS")
}
