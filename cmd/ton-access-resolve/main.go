package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"tonaccess/pkg/fleet"
	"tonaccess/pkg/log"
	"tonaccess/pkg/models"
	"tonaccess/pkg/resolver"

	"github.com/fatih/color"
)

const defaultTimeout = 30 * time.Second

func main() {
	protocolName := flag.String("protocol", string(models.ProtocolTonCenterV2), "Protocol: toncenter-api-v2 (v2), ton-api-v4 (v4) or adnl-proxy (adnl)")
	network := flag.String("network", string(models.DefaultNetwork), "Network: mainnet or testnet")
	host := flag.String("host", models.DefaultHost, "Edge host")
	version := flag.Int("version", models.DefaultAccessVersion, "Access version")
	format := flag.String("format", string(models.DefaultFormat), "Protocol format: default, json-rpc or rest")
	multi := flag.Bool("multi", false, "Return fan-out endpoints instead of one")
	fanOut := flag.Int("fan-out", resolver.DefaultFanOut, "Number of endpoints with -multi")
	managerURL := flag.String("manager-url", fleet.DefaultManagerURL, "Fleet manager node list URL")
	timeout := flag.Duration("timeout", defaultTimeout, "Overall timeout")
	status := flag.Bool("status", false, "Print the fleet node status instead of resolving")
	jsonOut := flag.Bool("json", false, "Print JSON")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	if *debug {
		log.SetDebugMode()
	} else if err := log.SetLevel("error"); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}

	protocol, err := models.ParseProtocol(*protocolName)
	if err != nil {
		fail(err)
	}

	cache, err := fleet.NewCache(*managerURL, fleet.NewDefaultHTTPFetcher(), fleet.WithFetchTimeout(*timeout))
	if err != nil {
		fail(err)
	}
	res := resolver.New(cache, resolver.WithFanOut(*fanOut))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *status {
		fleetStatus, err := res.Status(ctx)
		if err != nil {
			fail(err)
		}
		if *jsonOut {
			printJSON(fleetStatus)
			return
		}
		printStatus(fleetStatus)
		return
	}

	cfg := models.EndpointConfig{
		Network:        models.Network(*network),
		Host:           *host,
		AccessVersion:  *version,
		ProtocolFormat: models.Format(*format),
	}

	if protocol == models.ProtocolAdnlProxy {
		endpoints, err := res.AdnlProxyEndpoints(ctx, cfg, !*multi)
		if err != nil {
			fail(err)
		}
		if *jsonOut {
			printJSON(endpoints)
			return
		}
		for _, endpoint := range endpoints {
			fmt.Printf("%s  %s\n", color.GreenString(endpoint.Endpoint), color.CyanString(endpoint.PublicKey))
		}
		return
	}

	urls, err := res.Endpoints(ctx, protocol, cfg, !*multi)
	if err != nil {
		fail(err)
	}
	if *jsonOut {
		printJSON(urls)
		return
	}
	for _, url := range urls {
		fmt.Println(color.GreenString(url))
	}
}

func printStatus(status models.FleetStatus) {
	fmt.Printf("Fetched:  %s (%s ago)\n", status.FetchedAt.Format(time.RFC3339), status.Age)
	fmt.Printf("Nodes:    %d\n\n", len(status.Nodes))

	for _, node := range status.Nodes {
		state := color.GreenString("online")
		if !node.Online {
			state = color.RedString("offline")
		}
		fmt.Printf("  %-20s %-8s weight=%-6g %s\n", node.NodeID, state, node.Weight, node.BackendName)
		if node.LastError != "" {
			fmt.Printf("  %20s %s\n", "", color.YellowString(node.LastError))
		}
	}
}

func printJSON(value interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
	os.Exit(1)
}
