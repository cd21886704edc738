// Package caddy provides TransformProxy as a Caddy module.
package caddy

import (
	"fmt"
	"net/http"
	"time"

	caddy "github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"
	"willnorris.com/go/transformproxy"
	"willnorris.com/go/transformproxy/internal/sourcecache"
)

func init() {
	caddy.RegisterModule(TransformProxy{})
	httpcaddyfile.RegisterHandlerDirective("transformproxy", parseCaddyfile)
}

type TransformProxy struct {
	Token    string `json:"token,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Host     string `json:"host,omitempty"`
	CacheDir string `json:"cache_dir,omitempty"`

	SourceCache string         `json:"source_cache,omitempty"`
	Timeout     caddy.Duration `json:"timeout,omitempty"`

	logger *zap.Logger
	proxy  *transformproxy.Proxy
}

// interface guard
var (
	_ caddyhttp.MiddlewareHandler = (*TransformProxy)(nil)
	_ caddy.Provisioner           = (*TransformProxy)(nil)
)

// CaddyModule returns the Caddy module information.
func (TransformProxy) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.transformproxy",
		New: func() caddy.Module { return new(TransformProxy) },
	}
}

func (p *TransformProxy) Provision(ctx caddy.Context) error {
	p.logger = ctx.Logger()

	transport, err := sourcecache.NewTransport(p.SourceCache, p.logger)
	if err != nil {
		return fmt.Errorf("source_cache: %w", err)
	}

	cfg := transformproxy.Config{
		Token:    p.Token,
		Protocol: p.Protocol,
		Host:     p.Host,
		CacheDir: p.CacheDir,
		Timeout:  time.Duration(p.Timeout),
		Silent:   true,
	}
	proxy, err := transformproxy.NewProxy(cfg, transport)
	if err != nil {
		return err
	}
	proxy.SetLogger(p.logger)
	p.proxy = proxy
	return nil
}

func (p *TransformProxy) ServeHTTP(w http.ResponseWriter, r *http.Request, _ caddyhttp.Handler) error {
	p.proxy.ServeHTTP(w, r)
	return nil
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	p := new(TransformProxy)

	h.Next() // consume the directive name
	for nesting := h.Nesting(); h.NextBlock(nesting); {
		key := h.Val()
		if !h.NextArg() {
			return nil, h.ArgErr()
		}
		switch key {
		case "token":
			p.Token = h.Val()
		case "protocol":
			p.Protocol = h.Val()
		case "host":
			p.Host = h.Val()
		case "cache_dir":
			p.CacheDir = h.Val()
		case "source_cache":
			p.SourceCache = h.Val()
			for h.NextArg() {
				p.SourceCache += " " + h.Val()
			}
		case "timeout":
			d, err := caddy.ParseDuration(h.Val())
			if err != nil {
				return nil, h.Errf("invalid timeout %q: %v", h.Val(), err)
			}
			p.Timeout = caddy.Duration(d)
		default:
			return nil, h.Errf("unknown subdirective %q", key)
		}
	}
	return p, nil
}
