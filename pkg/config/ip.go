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
	"net"

	"github.com/pkg/errors"
)

// ListenAddresses returns the IPs the relay sockets bind to, the unspecified
// address when none are configured.
func (conf *Config) ListenAddresses() []string {
	if len(conf.BindAddresses) == 0 {
		return []string{""}
	}
	return conf.BindAddresses
}

// AdvertisedAddresses resolves the addresses peers can reach the relay on,
// replacing an unspecified bind address with the local interface addresses.
func (conf *Config) AdvertisedAddresses() ([]string, error) {
	var out []string
	for _, addr := range conf.ListenAddresses() {
		if ip := net.ParseIP(addr); ip != nil && !ip.IsUnspecified() {
			out = append(out, addr)
			continue
		}
		local, err := GetLocalIPAddresses(false)
		if err != nil {
			return nil, err
		}
		out = append(out, local...)
	}
	return out, nil
}

func GetLocalIPAddresses(includeLoopback bool) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	loopBacks := make([]string, 0)
	addresses := make([]string, 0)
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch typedAddr := addr.(type) {
			case *net.IPNet:
				ip = typedAddr.IP.To4()
			case *net.IPAddr:
				ip = typedAddr.IP.To4()
			default:
				continue
			}
			if ip == nil {
				continue
			}
			if ip.IsLoopback() {
				loopBacks = append(loopBacks, ip.String())
			} else {
				addresses = append(addresses, ip.String())
			}
		}
	}

	if includeLoopback {
		addresses = append(addresses, loopBacks...)
	}

	if len(addresses) > 0 {
		return addresses, nil
	}
	if len(loopBacks) > 0 {
		return loopBacks, nil
	}
	return nil, errors.New("could not find local IP address")
}
