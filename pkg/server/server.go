// Package server wires the settings store, Exchange session factory,
// LDAP connection factory and listener together into the running
// gateway process.
package server

import (
	"context"
	"fmt"
	"time"

	logging "github.com/op/go-logging"

	"github.com/dmguessant/xchangeldap/pkg/config"
	"github.com/dmguessant/xchangeldap/pkg/exchange"
	"github.com/dmguessant/xchangeldap/pkg/httpfacade"
	"github.com/dmguessant/xchangeldap/pkg/listener"
	"github.com/dmguessant/xchangeldap/pkg/metrics"
	"github.com/dmguessant/xchangeldap/pkg/stats"
	"github.com/dmguessant/xchangeldap/pkg/tlsutil"
)

// Gateway owns the listener and background services started from
// ListenAndServe; Shutdown stops them.
type Gateway struct {
	log     *logging.Logger
	cfg     *config.Config
	facade  *httpfacade.Facade
	factory *exchange.Factory
	ln      *listener.Listener
}

// New assembles a Gateway from the given options, building the HTTP
// facade, Exchange session factory, and LDAP listener from cfg.
func New(opts ...Option) (*Gateway, error) {
	o := newOptions(opts...)
	if o.Logger == nil {
		return nil, fmt.Errorf("server: Logger option is required")
	}
	if o.Config == nil {
		return nil, fmt.Errorf("server: Config option is required")
	}
	log := o.Logger
	cfg := o.Config

	facade, err := httpfacade.New(log, httpfacade.ProxyConfig{
		Enabled:  cfg.Proxy.Enabled,
		Host:     cfg.Proxy.Host,
		Port:     cfg.Proxy.Port,
		User:     cfg.Proxy.User,
		Password: cfg.Proxy.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("server: building HTTP facade: %w", err)
	}
	facade.Start()

	factory := exchange.NewFactory(facade, log, cfg.URL, cfg.UseGraphAPI)

	tlsConfig, err := tlsutil.Build(tlsutil.Keystore{
		KeystoreFile:   cfg.SSL.KeystoreFile,
		KeystoreType:   cfg.SSL.KeystoreType,
		KeyPass:        cfg.SSL.KeyPass,
		TruststoreFile: cfg.SSL.TruststoreFile,
		TruststoreType: cfg.SSL.TruststoreType,
		NeedClientAuth: cfg.SSL.NeedClientAuth,
	})
	if err != nil {
		return nil, fmt.Errorf("server: building TLS config: %w", err)
	}

	ln := listener.New(listener.Config{
		ProtocolName:    "LDAP",
		BindAddress:     cfg.BindAddress,
		Port:            cfg.LdapPort,
		AllowRemote:     cfg.AllowRemote,
		ClientSoTimeout: time.Duration(cfg.ClientSoTimeout) * time.Second,
		TLSConfig:       tlsConfig,
	}, newConnFactory(log, factory, cfg.URL), log)

	return &Gateway{log: log, cfg: cfg, facade: facade, factory: factory, ln: ln}, nil
}

// ListenAndServe binds the LDAP listener and, if enabled, the status
// HTTP server, then blocks serving connections until ctx is cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	if err := g.ln.Bind(); err != nil {
		return err
	}

	metrics.NewCollector(stats.Frontend, stats.Backend, stats.General)

	if g.cfg.Status.Enabled {
		go metrics.RunStatusServer(g.log, metrics.StatusConfig{
			Enabled: g.cfg.Status.Enabled,
			Listen:  g.cfg.Status.Listen,
			TLS:     g.cfg.Status.TLS,
			Cert:    g.cfg.Status.Cert,
			Key:     g.cfg.Status.Key,
		})
	}

	g.log.Notice(fmt.Sprintf("LDAP gateway listening on %s:%d", g.cfg.BindAddress, g.cfg.LdapPort))
	return g.ln.Serve(ctx)
}

// Shutdown stops the listener and the HTTP facade's idle reaper. Safe to
// call more than once.
func (g *Gateway) Shutdown() {
	g.ln.Stop()
	g.facade.Stop()
}
