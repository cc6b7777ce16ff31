package registry

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/integrations/courier/fake"
	"github.com/BearBump/CourierSync/internal/integrations/courier/httpadapter"
	"github.com/BearBump/CourierSync/internal/integrations/courier/leopards"
)

// Registry resolves courier codes to clients.
type Registry struct {
	clients map[string]courier.Client
	names   []string
}

// New builds clients for every enabled courier in cfg.
func New(cfg *courier.Config) *Registry {
	r := &Registry{clients: make(map[string]courier.Client)}
	if cfg == nil {
		return r
	}
	for _, c := range cfg.Couriers {
		// disabled couriers still count as courier names for scan validation
		r.names = append(r.names, strings.ToLower(c.Code))
		if c.Name != "" {
			r.names = append(r.names, strings.ToLower(c.Name))
		}
		if !c.Enabled {
			slog.Info("courier disabled, skipping", "courier", c.Code)
			continue
		}
		var client courier.Client
		switch c.Kind {
		case courier.KindLeopards:
			client = leopards.New(c)
		case courier.KindFake:
			client = fake.New(c.Code)
		default:
			client = httpadapter.New(c)
		}
		r.Register(client)
		slog.Info("courier registered", "courier", c.Code, "kind", c.Kind)
	}
	return r
}

func (r *Registry) Register(c courier.Client) {
	r.clients[strings.ToLower(c.Code())] = c
}

func (r *Registry) Get(code string) (courier.Client, bool) {
	c, ok := r.clients[strings.ToLower(strings.TrimSpace(code))]
	return c, ok
}

func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.clients))
	for code := range r.clients {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Names returns codes and display names of every configured courier, enabled or not.
func (r *Registry) Names() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(r.clients)+len(r.names))
	for _, n := range append(r.Codes(), r.names...) {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
