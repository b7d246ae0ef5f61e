package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
)

// appendLocatorList appends a RTPS LocatorList (count:u32 followed by
// count 24-byte Locators) to dst.
func appendLocatorList(dst []byte, order binary.ByteOrder, locs []guid.Locator) []byte {
	cnt := make([]byte, 4)
	order.PutUint32(cnt, uint32(len(locs)))
	dst = append(dst, cnt...)
	for _, l := range locs {
		buf := make([]byte, guid.WireLen)
		l.Marshal(order, buf)
		dst = append(dst, buf...)
	}
	return dst
}

// parseLocatorList reads a RTPS LocatorList, returning the locators
// and the number of bytes consumed.
func parseLocatorList(order binary.ByteOrder, b []byte) ([]guid.Locator, int, error) {
	if len(b) < 4 {
		return nil, 0, errors.New("wire: truncated locator list count")
	}
	count := int(order.Uint32(b[0:4]))
	off := 4
	if count < 0 {
		return nil, 0, errors.New("wire: negative locator list count")
	}
	locs := make([]guid.Locator, 0, count)
	for k := 0; k < count; k++ {
		if off+guid.WireLen > len(b) {
			return nil, 0, errors.New("wire: truncated locator list entry")
		}
		l, err := guid.ParseLocator(order, b[off:off+guid.WireLen])
		if err != nil {
			return nil, 0, err
		}
		locs = append(locs, l)
		off += guid.WireLen
	}
	return locs, off, nil
}
