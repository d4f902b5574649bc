package config

import "time"

// Network holds the per-chain deployment parameters.
type Network struct {
	Name             string
	ChainID          uint64
	Coordinator      string
	EntranceFee      string
	GasLane          string
	SubscriptionID   uint64
	CallbackGasLimit uint32
	Interval         time.Duration
	// Development networks run against the local mock coordinator.
	Development bool
}

const defaultGasLane = "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc"

// Networks lists the known networks by name.
var Networks = map[string]Network{
	"rinkeby": {
		Name:             "rinkeby",
		ChainID:          4,
		Coordinator:      "0x6168499c0cFfCaCD319c818142124B7A15E857ab",
		EntranceFee:      "0.1",
		GasLane:          defaultGasLane,
		CallbackGasLimit: 500000,
		Interval:         30 * time.Second,
	},
	"localhost": {
		Name:             "localhost",
		ChainID:          31337,
		EntranceFee:      "0.1",
		GasLane:          defaultGasLane,
		CallbackGasLimit: 500000,
		Interval:         30 * time.Second,
		Development:      true,
	},
	"hardhat": {
		Name:             "hardhat",
		ChainID:          31337,
		EntranceFee:      "0.1",
		GasLane:          defaultGasLane,
		CallbackGasLimit: 500000,
		Interval:         30 * time.Second,
		Development:      true,
	},
}
