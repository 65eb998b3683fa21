package config

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CandidatePaths are RTSP paths and credentials commonly exposed by IP cameras.
var CandidatePaths = []string{
	"rtsp://admin:admin@%s/stream1",
	"rtsp://admin:123456@%s/stream1",
	"rtsp://admin:password@%s/stream1",
	"rtsp://admin:@%s/stream1",
	"rtsp://%s/stream1",
	"rtsp://admin:admin@%s/cam/realmonitor?channel=1&subtype=0",
	"rtsp://admin:admin@%s/h264/ch1/main/av_stream",
}

// ProbeFunc tries to open an RTSP URL and reports whether it delivers a stream.
type ProbeFunc func(ctx context.Context, uri string) error

// ScanResult is one host with an open RTSP port.
type ScanResult struct {
	IP      string `json:"ip"`
	Addr    string `json:"addr"`
	RTSPURL string `json:"rtsp_url,omitempty"`
}

// Camera converts a probed result to a disabled camera entry the operator
// can review before enabling.
func (r ScanResult) Camera() CameraConfig {
	return CameraConfig{
		ID:      fmt.Sprintf("camera_%s", sanitizeIP(r.IP)),
		Name:    fmt.Sprintf("Camera %s", r.IP),
		RTSPURL: r.RTSPURL,
		Enabled: false,
	}
}

// ScanCamerasInRange dials port on every address from start to end inclusive
// and returns the hosts that accepted a TCP connection, in address order.
func ScanCamerasInRange(ctx context.Context, start, end, port string, workers int) ([]ScanResult, error) {
	startIP := net.ParseIP(start).To4()
	endIP := net.ParseIP(end).To4()
	if startIP == nil || endIP == nil {
		return nil, fmt.Errorf("invalid IPv4 range %s - %s", start, end)
	}
	if workers < 1 {
		workers = 1
	}

	var ips []net.IP
	for ip := startIP; ; ip = incIP(ip) {
		ips = append(ips, ip)
		if ip.Equal(endIP) || len(ips) > 65536 {
			break
		}
	}
	log.Println("[SCAN] scanning ip", start, "to", end, "port", port, "for camera...")

	found := make([]bool, len(ips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ip := range ips {
		i, addr := i, net.JoinHostPort(ip.String(), port)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			d := net.Dialer{Timeout: 2 * time.Second}
			conn, err := d.DialContext(gctx, "tcp", addr)
			if err != nil {
				return nil
			}
			conn.Close()
			found[i] = true
			log.Println("[SCAN]   Found open RTSP port at", addr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []ScanResult
	for i, ok := range found {
		if ok {
			results = append(results, ScanResult{IP: ips[i].String(), Addr: net.JoinHostPort(ips[i].String(), port)})
		}
	}
	log.Println("[SCAN] Scan complete. Found", len(results), "host(s).")
	return results, nil
}

// ProbeCameras tries CandidatePaths on each result and fills in the first URL
// that probe accepts. Hosts are probed concurrently; paths of one host in order.
func ProbeCameras(ctx context.Context, results []ScanResult, probe ProbeFunc) []ScanResult {
	var wg sync.WaitGroup
	out := make([]ScanResult, len(results))
	copy(out, results)
	for i := range out {
		wg.Add(1)
		go func(r *ScanResult) {
			defer wg.Done()
			for _, pattern := range CandidatePaths {
				if ctx.Err() != nil {
					return
				}
				uri := fmt.Sprintf(pattern, r.Addr)
				if err := probe(ctx, uri); err == nil {
					r.RTSPURL = uri
					log.Printf("[SCAN] ✅ %s answers RTSP", r.Addr)
					return
				}
			}
			log.Printf("[SCAN] ❌ %s port open but no RTSP stream on known paths", r.Addr)
		}(&out[i])
	}
	wg.Wait()
	return out
}

// LocalSubnet returns the first and last host address of the /24 the machine
// uses for outbound traffic.
func LocalSubnet() (string, string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", "", fmt.Errorf("detect local address: %w", err)
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr).IP.To4()
	if local == nil {
		return "", "", fmt.Errorf("local address %s is not IPv4", conn.LocalAddr())
	}
	return fmt.Sprintf("%d.%d.%d.1", local[0], local[1], local[2]),
		fmt.Sprintf("%d.%d.%d.254", local[0], local[1], local[2]), nil
}

func sanitizeIP(ip string) string {
	b := []byte(ip)
	for i, c := range b {
		if c == '.' || c == ':' {
			b[i] = '_'
		}
	}
	return string(b)
}

// incIP increments an IP address by 1 (IPv4 only).
func incIP(ip net.IP) net.IP {
	res := make(net.IP, len(ip))
	copy(res, ip)
	for j := len(res) - 1; j >= 0; j-- {
		res[j]++
		if res[j] != 0 {
			break
		}
	}
	return res
}
