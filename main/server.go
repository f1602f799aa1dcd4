package main

import (
	"flag"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"k8s.io/klog/v2"

	"cs426.yale.edu/hetr/launch"
	"cs426.yale.edu/hetr/worker"
)

var (
	port       = flag.Int("port", 0, "port to listen on")
	configPath = flag.String("config", "", "optional JSON worker config; the first port wins when both are given")
)

// resolvePort picks the listen port: the --port flag, then the first entry
// of HETR_SERVER_PORTS.
func resolvePort() (int, error) {
	if *port > 0 {
		return *port, nil
	}
	ports, err := launch.PortsFromEnv()
	if err != nil {
		return 0, err
	}
	return ports[0], nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *configPath != "" {
		if _, err := launch.LoadConfig(*configPath); err != nil {
			klog.Fatalf("failed to load config: %v", err)
		}
	}
	p, err := resolvePort()
	if err != nil {
		klog.Fatalf("no port to listen on: %v", err)
	}

	addr := fmt.Sprintf(":%d", p)
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		klog.Fatalf("failed to listen on %s: %v", addr, err)
	}
	s := grpc.NewServer()
	worker.RegisterWorkerServer(s, worker.NewServer())
	klog.Infof("worker server listening on %s", addr)
	if err := s.Serve(listen); err != nil {
		klog.Fatalf("failed to serve on %s: %v", addr, err)
	}
}
