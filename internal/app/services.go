package app

import (
	"time"

	"github.com/ggonzalez94/defi-actions/internal/cache"
	"github.com/ggonzalez94/defi-actions/internal/config"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution/actionbuilder"
	"github.com/ggonzalez94/defi-actions/internal/execution/planner"
	"github.com/ggonzalez94/defi-actions/internal/httpx"
	"github.com/ggonzalez94/defi-actions/internal/logging"
	"github.com/ggonzalez94/defi-actions/internal/positions"
	"github.com/ggonzalez94/defi-actions/internal/providers/debank"
	"github.com/ggonzalez94/defi-actions/internal/providers/defillama"
	"github.com/ggonzalez94/defi-actions/internal/providers/hyperliquid"
	"github.com/ggonzalez94/defi-actions/internal/providers/jupiter"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"go.uber.org/zap"
)

// services is the wired object graph shared by every command of one run.
type services struct {
	book       *registry.AddressBook
	venue      *hyperliquid.Client
	router     *jupiter.Client
	prices     *defillama.Client
	indexer    *debank.Client
	resolver   *positions.Resolver
	dispatcher *actionbuilder.Dispatcher
}

func newServices(settings config.Settings, backend cache.Backend, log *zap.Logger) (*services, error) {
	httpClient := httpx.New(settings.Timeout, settings.Retries).WithRateLimitPolicy(2*time.Second, 3)
	return wireServices(servicesConfig{
		book:    registry.DefaultAddressBook().WithOverrides(settings.Addresses),
		venue:   hyperliquid.New(httpClient, settings.HyperliquidEndpoint, time.Now),
		router:  jupiter.New(httpClient, settings.JupiterAPIKey),
		prices:  defillama.New(httpClient).WithCache(backend, log),
		indexer: debank.New(httpClient, settings.DebankAPIKey).WithCache(backend, log),
		log:     log,
	})
}

type servicesConfig struct {
	book    *registry.AddressBook
	venue   *hyperliquid.Client
	router  *jupiter.Client
	prices  *defillama.Client
	indexer *debank.Client
	log     *zap.Logger
}

func wireServices(cfg servicesConfig) (*services, error) {
	log := logging.OrNop(cfg.log)
	resolver := positions.NewResolver(cfg.indexer, cfg.venue, cfg.book, log.Named("positions"))
	dispatcher, err := actionbuilder.New(
		planner.NewAave(cfg.book),
		planner.NewAmbient(cfg.book, cfg.prices, resolver),
		planner.NewBladeswap(cfg.book),
		planner.NewDolomite(cfg.book),
		planner.NewHyperliquid(cfg.book, cfg.venue, cfg.prices),
		planner.NewJupiter(cfg.router),
	)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "register protocol builders", err)
	}
	return &services{
		book:       cfg.book,
		venue:      cfg.venue,
		router:     cfg.router,
		prices:     cfg.prices,
		indexer:    cfg.indexer,
		resolver:   resolver,
		dispatcher: dispatcher,
	}, nil
}
