// +build !linux

package transport

// SetDSCP is a no-op on platforms without a SetsockoptInt/IP_TOS
// exposed by golang.org/x/sys/unix in this build.
func (s *Socket) SetDSCP(dscp int) error {
	return nil
}
