// Package rudp implements the connection-manager layer of a reliable-UDP
// peer-to-peer stack.
//
// A ManagedConnections instance bootstraps one or more UDP transports off
// a candidate list, tracks every live and in-progress connection to peers
// identified by cryptographic node IDs, selects which local transport
// hosts each new outbound attempt under NAT-aware policies, and delivers
// connection, message, and loss events to a single application listener.
//
// Example:
//
//	mc := rudp.NewManagedConnections(rudp.NewOptions())
//	own, chosen, err := mc.Bootstrap(candidates, listener, nodeID, keys, transport.Endpoint{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mc.Close()
package rudp
