//go:build !unix

package server

import "syscall"

func setReuseAddr(network, address string, rawConn syscall.RawConn) error {
	return nil
}
