package main

import (
	"fmt"
	"sort"
	"sync"

	"github.com/facebookgo/stats"
)

// counters collects the sums reported by the transports.
type counters struct {
	m    sync.Mutex
	sums map[string]float64
}

func newCounters() *counters {
	return &counters{sums: make(map[string]float64)}
}

func (c *counters) client() stats.Client {
	return &stats.HookClient{
		BumpSumHook: func(key string, val float64) {
			c.m.Lock()
			c.sums[key] += val
			c.m.Unlock()
		},
	}
}

// rows returns the counters as table rows, sorted by name.
func (c *counters) rows() [][]string {
	c.m.Lock()
	defer c.m.Unlock()
	var keys []string
	for k := range c.sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var result [][]string
	for _, k := range keys {
		result = append(result, []string{k, fmt.Sprintf("%.0f", c.sums[k])})
	}
	return result
}
