package courier

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

const (
	KindHTTP     = "http"
	KindLeopards = "leopards"
	KindFake     = "fake"
)

// AdapterConfig describes one courier API as data: auth scheme, endpoints and field formats.
type AdapterConfig struct {
	Code           string          `yaml:"code"`
	Name           string          `yaml:"name"`
	Kind           string          `yaml:"kind"`
	Enabled        bool            `yaml:"enabled"`
	APIKey         string          `yaml:"api_key"`
	APISecret      string          `yaml:"api_secret,omitempty"`
	AuthType       string          `yaml:"auth_type"` // bearer | basic | header | query
	AuthHeader     string          `yaml:"auth_header,omitempty"`
	BaseURL        string          `yaml:"base_url"`
	TimeoutSeconds int             `yaml:"timeout_seconds,omitempty"`
	Endpoints      EndpointsConfig `yaml:"endpoints"`
	Request        RequestConfig   `yaml:"request,omitempty"`
	Response       ResponseMapping `yaml:"response_mapping"`
}

type EndpointsConfig struct {
	Book  string `yaml:"book"`
	Track string `yaml:"track"` // may contain {tracking_id}
}

type RequestConfig struct {
	ContentType string `yaml:"content_type,omitempty"`
	// WeightUnit is "kg" (default) or "g".
	WeightUnit string `yaml:"weight_unit,omitempty"`
	// FieldMapping renames canonical booking fields to the courier's names.
	FieldMapping map[string]string `yaml:"field_mapping,omitempty"`
}

type ResponseMapping struct {
	TrackingIDField string            `yaml:"tracking_id_field"`
	StatusField     string            `yaml:"status_field"`
	LocationField   string            `yaml:"location_field,omitempty"`
	ErrorField      string            `yaml:"error_field,omitempty"`
	SuccessField    string            `yaml:"success_field,omitempty"`
	StatusMap       map[string]string `yaml:"status_map,omitempty"`
}

type Config struct {
	Couriers []AdapterConfig `yaml:"couriers"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read couriers config")
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes parses, expands ${ENV} credentials and validates every enabled courier.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal couriers config")
	}
	seen := make(map[string]bool, len(cfg.Couriers))
	for i := range cfg.Couriers {
		c := &cfg.Couriers[i]
		c.Code = strings.ToLower(strings.TrimSpace(c.Code))
		c.APIKey = expandEnvVar(c.APIKey)
		c.APISecret = expandEnvVar(c.APISecret)
		c.BaseURL = expandEnvVar(c.BaseURL)
		if c.Kind == "" {
			c.Kind = KindHTTP
		}
		if seen[c.Code] {
			return nil, errors.Errorf("duplicate courier code %q", c.Code)
		}
		seen[c.Code] = true
		if !c.Enabled {
			continue
		}
		if err := c.Validate(); err != nil {
			return nil, errors.Wrapf(err, "courier %q", c.Code)
		}
	}
	return &cfg, nil
}

func (c AdapterConfig) Validate() error {
	if c.Code == "" {
		return errors.New("code is required")
	}
	switch c.Kind {
	case KindFake:
		return nil
	case KindHTTP, KindLeopards:
	default:
		return errors.Errorf("unknown kind %q", c.Kind)
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.Kind == KindLeopards {
		return nil
	}
	if c.Endpoints.Book == "" {
		return errors.New("endpoints.book is required")
	}
	if c.Endpoints.Track == "" {
		return errors.New("endpoints.track is required")
	}
	if c.Response.TrackingIDField == "" {
		return errors.New("response_mapping.tracking_id_field is required")
	}
	if c.Response.StatusField == "" {
		return errors.New("response_mapping.status_field is required")
	}
	switch strings.ToLower(c.AuthType) {
	case "", "bearer", "basic", "header", "query":
	default:
		return errors.Errorf("unknown auth_type %q", c.AuthType)
	}
	return nil
}

func expandEnvVar(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		if v := os.Getenv(value[2 : len(value)-1]); v != "" {
			return v
		}
	}
	return value
}
