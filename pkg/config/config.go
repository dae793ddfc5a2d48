// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/ssrc-relay/pkg/logger"
	"github.com/livekit/ssrc-relay/pkg/ssrc"
)

const (
	generatedCLIFlagUsage = "generated"
	envVarPrefix          = "SSRC_RELAY"

	StatsDumpInterval = time.Second * 30
)

var (
	ErrInvalidPort        = errors.New("invalid port")
	ErrInvalidBindAddress = errors.New("invalid bind address")
	ErrInvalidHistory     = errors.New("history sizes must be positive")
	ErrInvalidReaper      = errors.New("reaper interval and idle timeout must be positive")

	durationType = reflect.TypeOf(time.Duration(0))
)

type Config struct {
	RTPPort        uint32        `yaml:"rtp_port,omitempty"`
	RTCPPort       uint32        `yaml:"rtcp_port,omitempty"`
	BindAddresses  []string      `yaml:"bind_addresses,omitempty"`
	PrometheusPort uint32        `yaml:"prometheus_port,omitempty"`
	NodeID         string        `yaml:"node_id,omitempty"`
	History        HistoryConfig `yaml:"history,omitempty"`
	Reaper         ReaperConfig  `yaml:"reaper,omitempty"`
	Ingest         IngestConfig  `yaml:"ingest,omitempty"`
	Stats          StatsConfig   `yaml:"stats,omitempty"`
	Logging        LoggingConfig `yaml:"logging,omitempty"`
	// periodic table dump of every entry, disabled when empty
	StatsDumpFile string `yaml:"stats_dump_file,omitempty"`
	Development   bool   `yaml:"development,omitempty"`
}

// HistoryConfig bounds the per SSRC report queues.
type HistoryConfig struct {
	SenderReports int `yaml:"sender_reports,omitempty"`
	RRTimeReports int `yaml:"rr_time_reports,omitempty"`
	StatsBlocks   int `yaml:"stats_blocks,omitempty"`
}

type ReaperConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
}

type IngestConfig struct {
	Workers int `yaml:"workers,omitempty"`
}

type StatsConfig struct {
	// used for jitter when the payload type has no static rate
	DefaultClockRate uint32 `yaml:"default_clock_rate,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

var DefaultConfig = Config{
	RTPPort:  30000,
	RTCPPort: 30001,
	NodeID:   "ssrc-relay",
	History: HistoryConfig{
		SenderReports: ssrc.DefaultSenderReportHistory,
		RRTimeReports: ssrc.DefaultRRTimeHistory,
		StatsBlocks:   ssrc.DefaultStatsBlockHistory,
	},
	Reaper: ReaperConfig{
		IdleTimeout: ssrc.DefaultReaperIdleTimeout,
		Interval:    ssrc.DefaultReaperInterval,
	},
	Ingest: IngestConfig{
		Workers: 4,
	},
	Stats: StatsConfig{
		DefaultClockRate: ssrc.DefaultClockRate,
	},
	Logging: LoggingConfig{
		Config: logger.Config{
			JSON:  false,
			Level: "info",
		},
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if conf.RTCPPort == 0 && conf.RTPPort != 0 {
		conf.RTCPPort = conf.RTPPort + 1
	}

	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "could not validate config")
	}

	// expand env vars in filenames
	if conf.StatsDumpFile != "" {
		file, err := homedir.Expand(os.ExpandEnv(conf.StatsDumpFile))
		if err != nil {
			return nil, err
		}
		conf.StatsDumpFile = file
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	return &conf, nil
}

func (conf *Config) Validate() error {
	if conf.RTPPort == 0 || conf.RTPPort > 65535 {
		return errors.Wrapf(ErrInvalidPort, "rtp_port %d", conf.RTPPort)
	}
	if conf.RTCPPort == 0 || conf.RTCPPort > 65535 || conf.RTCPPort == conf.RTPPort {
		return errors.Wrapf(ErrInvalidPort, "rtcp_port %d", conf.RTCPPort)
	}
	if conf.PrometheusPort > 65535 || (conf.PrometheusPort != 0 && (conf.PrometheusPort == conf.RTPPort || conf.PrometheusPort == conf.RTCPPort)) {
		return errors.Wrapf(ErrInvalidPort, "prometheus_port %d", conf.PrometheusPort)
	}
	for _, addr := range conf.BindAddresses {
		if net.ParseIP(addr) == nil {
			return errors.Wrap(ErrInvalidBindAddress, addr)
		}
	}
	if conf.History.SenderReports <= 0 || conf.History.RRTimeReports <= 0 || conf.History.StatsBlocks <= 0 {
		return ErrInvalidHistory
	}
	if conf.Reaper.IdleTimeout <= 0 || conf.Reaper.Interval <= 0 {
		return ErrInvalidReaper
	}
	if conf.Ingest.Workers <= 0 {
		return errors.New("ingest workers must be positive")
	}
	return nil
}

// EntryCallParams maps the history and stats settings onto registry entry
// parameters.
func (conf *Config) EntryCallParams() ssrc.EntryCallParams {
	return ssrc.EntryCallParams{
		SenderReports:    conf.History.SenderReports,
		RRTimeReports:    conf.History.RRTimeReports,
		StatsBlocks:      conf.History.StatsBlocks,
		DefaultClockRate: conf.Stats.DefaultClockRate,
	}
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := len(yamlTagArray) > 1 && strings.Contains(yamlTagArray[1], "inline")
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func envVarName(flagName string) string {
	return fmt.Sprintf("%s_%s", envVarPrefix, strings.ToUpper(strings.ReplaceAll(flagName, ".", "_")))
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		envVar := envVarName(name)

		switch {
		case value.Type() == durationType:
			flag = &cli.DurationFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.Bool:
			flag = &cli.BoolFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.Int, kind == reflect.Int32:
			flag = &cli.IntFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.Int64:
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.Uint8, kind == reflect.Uint16, kind == reflect.Uint32:
			flag = &cli.UintFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.Float32, kind == reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.Slice && value.Type().Elem().Kind() == reflect.String:
			flag = &cli.StringSliceFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case kind == reflect.Slice, kind == reflect.Map, kind == reflect.Struct:
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch {
		case configValue.Type() == durationType:
			configValue.SetInt(int64(c.Duration(flagName)))
		case kind == reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case kind == reflect.String:
			configValue.SetString(c.String(flagName))
		case kind == reflect.Int, kind == reflect.Int32, kind == reflect.Int64:
			configValue.SetInt(c.Int64(flagName))
		case kind == reflect.Uint8, kind == reflect.Uint16, kind == reflect.Uint32, kind == reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case kind == reflect.Float32, kind == reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		case kind == reflect.Slice:
			configValue.Set(reflect.ValueOf(c.StringSlice(flagName)))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("bind") {
		conf.BindAddresses = c.StringSlice("bind")
	}
	if c.IsSet("node-id") {
		conf.NodeID = c.String("node-id")
	}
	return nil
}

func InitLoggerFromConfig(config *LoggingConfig) error {
	return logger.InitFromConfig(config.Config, "ssrc-relay")
}
