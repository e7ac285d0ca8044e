package observability

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

const (
	defaultServiceName    = "vaultstate"
	protocolHTTP          = "http/protobuf"
	protocolGRPC          = "grpc"
	serviceNameAttribute  = "service.name"
	defaultExportInterval = 30 * time.Second
)

// Config holds the OpenTelemetry settings derived from the application config.
type Config struct {
	Enabled            bool
	ServiceName        string
	Endpoint           string
	Protocol           string
	ResourceAttributes map[string]string
	Sampler            string
	SamplerArg         float64
	ExportInterval     time.Duration
}

// LoadConfig derives and validates the OpenTelemetry settings.
func LoadConfig(cfg *types.Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: nil root configuration provided")
	}

	attrs, err := parseResourceAttributes(cfg.OTelResourceAttributes)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to parse resource attributes: %w", err)
	}

	c := &Config{
		Enabled:            cfg.OTelEnabled,
		ServiceName:        strings.TrimSpace(cfg.OTelServiceName),
		Endpoint:           strings.TrimSpace(cfg.OTelExporterOTLPEndpoint),
		Protocol:           strings.ToLower(strings.TrimSpace(cfg.OTelExporterOTLPProtocol)),
		ResourceAttributes: attrs,
		Sampler:            strings.ToLower(strings.TrimSpace(cfg.OTelTracesSampler)),
		SamplerArg:         cfg.OTelTracesSamplerArg,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate fills defaults and checks exporter settings when export is enabled.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("observability: config is nil")
	}

	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.Protocol == "" {
		c.Protocol = protocolHTTP
	}
	if c.Sampler == "" {
		c.Sampler = "always_on"
	}
	if c.ExportInterval <= 0 {
		c.ExportInterval = defaultExportInterval
	}
	if c.ResourceAttributes == nil {
		c.ResourceAttributes = make(map[string]string)
	}
	if _, ok := c.ResourceAttributes[serviceNameAttribute]; !ok {
		c.ResourceAttributes[serviceNameAttribute] = c.ServiceName
	}

	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("observability: OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED=true")
	}

	switch c.Protocol {
	case protocolHTTP:
		parsed, err := url.Parse(c.Endpoint)
		if err != nil {
			return fmt.Errorf("observability: invalid OTLP endpoint: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("observability: OTLP endpoint needs an http or https scheme for %s", protocolHTTP)
		}
		if parsed.Host == "" {
			return fmt.Errorf("observability: OTLP endpoint must include a host")
		}
	case protocolGRPC:
		if _, _, err := grpcTarget(c.Endpoint); err != nil {
			return fmt.Errorf("observability: invalid OTLP gRPC endpoint: %w", err)
		}
	default:
		return fmt.Errorf("observability: unsupported OTLP exporter protocol %q", c.Protocol)
	}

	switch c.Sampler {
	case "always_on", "always_off", "parentbased_always_on":
	case "traceidratio":
		if c.SamplerArg <= 0 || c.SamplerArg > 1 {
			return fmt.Errorf("observability: traceidratio sampler argument must be in (0, 1]")
		}
	default:
		return fmt.Errorf("observability: unsupported traces sampler %q", c.Sampler)
	}

	return nil
}

// parseResourceAttributes reads the OTEL_RESOURCE_ATTRIBUTES key=value list
func parseResourceAttributes(input string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid resource attribute %q", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("resource attribute key cannot be empty")
		}
		attrs[key] = strings.TrimSpace(value)
	}
	return attrs, nil
}
