package core

// InterceptorConfig contains configuration for the virtual interface and the
// host routing changes made through it.
type InterceptorConfig struct {
	// TUNName is the name of the virtual interface.
	TUNName string `json:"tun_name" yaml:"tunName"`

	// TUNDescription is the adapter description used when it is created.
	TUNDescription string `json:"tun_description" yaml:"tunDescription"`

	// TUNIP is the static IPv4 address assigned to the virtual interface.
	TUNIP string `json:"tun_ip" yaml:"tunIP"`

	// TUNMask is the dotted-quad netmask for TUNIP (e.g., "255.255.255.0").
	TUNMask string `json:"tun_mask" yaml:"tunMask"`

	// TUNMTU is the Maximum Transmission Unit (MTU) of the virtual interface.
	TUNMTU int `json:"tun_mtu" yaml:"tunMTU"`

	// PhysicalInterface is the adapter whose DHCP/DNS configuration is
	// re-enabled on restoration.
	PhysicalInterface string `json:"physical_interface" yaml:"physicalInterface"`

	// RouteMetric is the metric of the default route installed through the
	// virtual interface. Lower wins.
	RouteMetric int `json:"route_metric" yaml:"routeMetric"`

	// CommandTimeoutMs bounds each host configuration command.
	CommandTimeoutMs int `json:"command_timeout_ms" yaml:"commandTimeoutMs"`

	// ReadOnly skips address and route provisioning entirely.
	ReadOnly bool `json:"read_only" yaml:"readOnly"`
}

// CaptureConfig contains configuration for the capture loop.
type CaptureConfig struct {
	// RingBytes sizes the session frame pool.
	RingBytes int `json:"ring_bytes" yaml:"ringBytes"`

	// RetryBackoffMs is the pause after a failed receive.
	RetryBackoffMs int `json:"retry_backoff_ms" yaml:"retryBackoffMs"`

	// TCPCopyCap bounds the payload bytes copied out of a TCP frame.
	TCPCopyCap int `json:"tcp_copy_cap" yaml:"tcpCopyCap"`

	// UDPCopyCap bounds the payload bytes copied out of a UDP frame.
	UDPCopyCap int `json:"udp_copy_cap" yaml:"udpCopyCap"`

	// PreviewBytes is the payload preview length handed to observers.
	PreviewBytes int `json:"preview_bytes" yaml:"previewBytes"`

	// ObserverQueue is the capacity of the asynchronous observer queue.
	// Zero delivers summaries on the capture goroutine.
	ObserverQueue int `json:"observer_queue" yaml:"observerQueue"`

	// PCAPFile records every captured frame when set.
	PCAPFile string `json:"pcap_file" yaml:"pcapFile"`
}

// SnifferConfig contains configuration for application-layer recognition.
type SnifferConfig struct {
	// HTTPPorts is the allow-list of ports that trigger HTTP recognition.
	HTTPPorts []uint16 `json:"http_ports" yaml:"httpPorts"`

	// DNSPorts is the allow-list of ports that trigger DNS recognition.
	DNSPorts []uint16 `json:"dns_ports" yaml:"dnsPorts"`

	// MaxInspect bounds the bytes inspected per payload.
	MaxInspect int `json:"max_inspect" yaml:"maxInspect"`

	// MaxHeaders bounds the header fields parsed per HTTP message.
	MaxHeaders int `json:"max_headers" yaml:"maxHeaders"`
}
