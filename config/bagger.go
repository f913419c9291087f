package config

import (
	"github.com/facebookgo/stats"

	"github.com/ndlib/holey"
	"github.com/ndlib/holey/resolve"
	"github.com/ndlib/holey/transport"
	"github.com/ndlib/holey/util"
)

// NewBagger returns a Bagger using these settings. Fetch counters go to
// counters, which may be nil. Call Stop on a non-nil Throttle when done.
func (c *Config) NewBagger(counters stats.Client) (*holey.Bagger, error) {
	keys, err := c.Keys()
	if err != nil {
		return nil, err
	}
	tc := c.Transport()
	tc.Stats = counters
	registry, err := transport.NewRegistry(tc)
	if err != nil {
		return nil, err
	}
	services, err := c.Services()
	if err != nil {
		return nil, err
	}
	client, err := transport.NewHTTPClient(tc)
	if err != nil {
		return nil, err
	}
	chain, err := resolve.NewChain(services, client)
	if err != nil {
		return nil, err
	}
	b := &holey.Bagger{
		Algorithms: c.Bag.Algorithms,
		Workers:    c.Bag.Workers,
		FoldWidth:  c.Bag.FoldWidth,
		Agent:      c.Bag.Agent,
		Keys:       keys,
		Registry:   registry,
		Resolver:   chain,
	}
	if c.Bag.Throttle > 0 {
		b.Throttle = util.NewRateCounter(c.Bag.Throttle)
	}
	return b, nil
}
