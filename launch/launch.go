// Package launch spawns and supervises worker server processes for the
// network backend: one process per configured port, torn down together.
package launch

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PortsEnv lists worker ports as a comma-separated value, one per device.
const PortsEnv = "HETR_SERVER_PORTS"

// Config maps transformer names to worker server addresses.
type Config struct {
	Workers map[string]string `json:"workers"`
}

// LoadConfig reads a JSON worker config.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "launch: opening config file")
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "launch: decoding config file")
	}
	return &config, nil
}

// PortsFromEnv parses the PortsEnv variable. An unset or empty variable is
// an error: the network backend cannot guess where its workers live.
func PortsFromEnv() ([]int, error) {
	return ParsePorts(os.Getenv(PortsEnv))
}

// ParsePorts splits a comma-separated port list.
func ParsePorts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.Errorf("launch: %v is not set", PortsEnv)
	}
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		port, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "launch: bad port %q", part)
		}
		if port <= 0 || port > 65535 {
			return nil, errors.Errorf("launch: port %d out of range", port)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// Addresses maps ports to localhost dial targets.
func Addresses(ports []int) []string {
	addrs := make([]string, len(ports))
	for i, port := range ports {
		addrs[i] = fmt.Sprintf("localhost:%d", port)
	}
	return addrs
}

// Launcher owns a set of spawned worker processes.
type Launcher struct {
	cmds      []*exec.Cmd
	addresses []string
}

// Start spawns one worker server process per port and blocks until every
// server accepts connections. On any failure the already-started processes
// are torn down.
func Start(binary string, ports []int) (*Launcher, error) {
	if len(ports) == 0 {
		return nil, errors.New("launch: no ports given")
	}
	l := &Launcher{addresses: Addresses(ports)}
	for i, port := range ports {
		cmd := exec.Command(binary, "--port", strconv.Itoa(port))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			l.Close()
			return nil, errors.Wrapf(err, "launch: starting worker on port %d", port)
		}
		klog.V(1).Infof("started worker pid %d on %s", cmd.Process.Pid, l.addresses[i])
		l.cmds = append(l.cmds, cmd)
	}
	for _, addr := range l.addresses {
		if err := waitReady(addr, 5*time.Second); err != nil {
			l.Close()
			return nil, err
		}
	}
	return l, nil
}

// Addresses returns the dial targets in port order.
func (l *Launcher) Addresses() []string {
	return append([]string(nil), l.addresses...)
}

// Close kills every spawned process and reaps it.
func (l *Launcher) Close() error {
	var firstErr error
	for _, cmd := range l.cmds {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Kill(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "launch: killing pid %d", cmd.Process.Pid)
		}
		cmd.Wait()
	}
	l.cmds = nil
	return firstErr
}

func waitReady(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(err, "launch: server %v not ready after %v", addr, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
