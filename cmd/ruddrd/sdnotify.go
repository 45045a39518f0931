package main

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// sdNotify sends one state line ("READY=1", "STOPPING=1") to the systemd
// notify socket so ruddrd can run as a Type=notify unit. Without
// $NOTIFY_SOCKET in the environment the process is not supervised by
// systemd and the call is a no-op.
func sdNotify(state string) error {
	socket := os.Getenv("NOTIFY_SOCKET")
	if socket == "" {
		return nil
	}
	// A leading "@" names an abstract socket.
	if strings.HasPrefix(socket, "@") {
		socket = "\x00" + socket[1:]
	}
	conn, err := net.Dial("unixgram", socket)
	if err != nil {
		return fmt.Errorf("connecting to notify socket: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("sending %q to notify socket: %w", state, err)
	}
	return nil
}
