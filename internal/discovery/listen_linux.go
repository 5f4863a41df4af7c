//go:build linux

package discovery

const soReusePort = 0xf // SO_REUSEPORT
