package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/ssrc-relay/pkg/config"
)

func printPorts(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	addrs, err := conf.AdvertisedAddresses()
	if err != nil {
		return err
	}

	writePortsTable(os.Stdout, conf, addrs)
	return nil
}

func writePortsTable(w io.Writer, conf *config.Config, addrs []string) {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Address", "Protocol", "Port", "Purpose"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT,
	})

	for _, row := range portRows(conf, addrs) {
		table.Append(row)
	}
	table.Render()
}

func portRows(conf *config.Config, addrs []string) [][]string {
	var rows [][]string
	for _, addr := range addrs {
		rows = append(rows,
			[]string{addr, "UDP", fmt.Sprint(conf.RTPPort), "RTP"},
			[]string{addr, "UDP", fmt.Sprint(conf.RTCPPort), "RTCP"},
		)
		if conf.PrometheusPort != 0 {
			rows = append(rows, []string{addr, "TCP", fmt.Sprint(conf.PrometheusPort), "Prometheus /metrics"})
		}
	}
	return rows
}

func printConfig(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(conf)
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}
