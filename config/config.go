package config

import (
	"fmt"
	"io/ioutil"
	"net/url"
	"strings"

	"github.com/textileio/fleetwatch/probe"
	"gopkg.in/yaml.v3"
)

// Inventory is the monitored fleet: the nodes to poll and the validator
// keys they report in block bonds.
type Inventory struct {
	Nodes      []string       `yaml:"nodes"`
	Validators map[string]int `yaml:"validators"`
}

// Mainnet is the built-in inventory used when no file is configured.
var Mainnet = Inventory{
	Nodes: []string{
		"https://observer.mainnet.r-publishing.com:443",
		"https://observer2.mainnet.r-publishing.com:443",
		"https://node0.mainnet.r-publishing.com:443",
		"https://node1.mainnet.r-publishing.com:443",
		"https://node2.mainnet.r-publishing.com:443",
		"https://node3.mainnet.r-publishing.com:443",
		"https://node4.mainnet.r-publishing.com:443",
	},
	Validators: map[string]int{
		"0430caee36205d58885c554101885fded123f00b56bec5c9e6c1cd7c695738570080d93915718a540deed92b0b53133b45e700bd0d48322143d669a8ec854715cd": 0,
		"04ef093ee28800cfcd8a6730e608bc477bb682d8f5480a75e3e7daab3b0a88cbe36ec69daa256e3b453b0e665292f46c9d3b6dd3ee94b481c67294c1e55f598da8": 1,
		"04e328e037fa8dac3d06b6f95f45d33494c9ed0f164e7dccff222ab96e299395c925b1aa8f408a52e3126305f5a4aaa55570740f57447469e765d9873756c1aa28": 2,
		"048504d953d66c20df2d1eca84aefe72d3413817cb126d92d75871a33ee373f70aab69eafbb6db2987190ed401c83f5c6e88a4d6eb46befd422b06dec24abe9afc": 3,
		"047004babb95935e18ce482ceed9192e1842a13a91ce160c7abe40515ff2827ef5a9b353fc89132757495138314077ba95b14e37d8cfcf0f60f6032701f8e17a40": 4,
	},
}

// LoadTargets reads a YAML inventory from path and returns its targets.
// An empty path yields the Mainnet inventory.
func LoadTargets(path string) ([]probe.Target, error) {
	if path == "" {
		return Mainnet.Targets()
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %s", err)
	}
	inv, err := Parse(b)
	if err != nil {
		return nil, err
	}
	return inv.Targets()
}

// Parse decodes a YAML inventory.
func Parse(b []byte) (Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(b, &inv); err != nil {
		return Inventory{}, fmt.Errorf("decoding inventory: %s", err)
	}
	return inv, nil
}

// Validate checks the inventory is usable.
func (inv Inventory) Validate() error {
	if len(inv.Nodes) == 0 {
		return fmt.Errorf("inventory has no nodes")
	}
	seen := make(map[string]struct{}, len(inv.Nodes))
	for _, n := range inv.Nodes {
		u, err := url.Parse(n)
		if err != nil {
			return fmt.Errorf("parsing node url %q: %s", n, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("node url %q must be an absolute http(s) url", n)
		}
		key := strings.TrimSuffix(n, "/")
		if _, ok := seen[key]; ok {
			return fmt.Errorf("node url %q is duplicated", n)
		}
		seen[key] = struct{}{}
	}
	for k, idx := range inv.Validators {
		if k == "" {
			return fmt.Errorf("validator key can't be empty")
		}
		if idx < 0 {
			return fmt.Errorf("validator %s has negative index %d", k, idx)
		}
	}
	return nil
}

// Targets validates the inventory and returns one target per node, in
// inventory order. All targets share the validator mapping.
func (inv Inventory) Targets() ([]probe.Target, error) {
	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("validating inventory: %s", err)
	}
	validators := make(map[string]int, len(inv.Validators))
	for k, v := range inv.Validators {
		validators[k] = v
	}
	targets := make([]probe.Target, len(inv.Nodes))
	for i, n := range inv.Nodes {
		targets[i] = probe.Target{URL: strings.TrimSuffix(n, "/"), Validators: validators}
	}
	return targets, nil
}
