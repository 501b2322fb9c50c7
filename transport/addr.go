package transport

import (
	"fmt"
	"net"
)

// ResolveAddr reconstructs a net.Addr from a wire-format address string and
// the network kind that produced it (LocalAddr().Network() of whichever
// transport sent it). The rpc package calls this when turning a
// ContactDescriptor learned from a find_nodes/find_value response back into
// a dialable address; it only ever needs to do so for the same network
// kind its own transport uses, since peers exchanging contacts assume a
// shared transport fabric.
func ResolveAddr(network, s string) (net.Addr, error) {
	switch network {
	case "memory":
		return MemoryAddr{name: s}, nil
	case "udp", "udp4", "udp6":
		return net.ResolveUDPAddr("udp", s)
	default:
		return nil, fmt.Errorf("transport: unknown address network %q", network)
	}
}
