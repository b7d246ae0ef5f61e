// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"encoding/json"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/dds-go/rtps/participant"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// jsonConfig mirrors Config below so a -c file can override any flag,
// matching the CLI's own JSON override mechanism.
type jsonConfig struct {
	Domain        *uint16 `json:"domain"`
	LeaseSeconds  *int    `json:"leaseseconds"`
	SpdpMillis    *int    `json:"spdpmillis"`
	Interfaces    *string `json:"interfaces"`
	PreSharedKey  *string `json:"presharedkey"`
	Cipher        *string `json:"cipher"`
	Log           *string `json:"log"`
}

// Config holds one process's worth of participant settings, filled in
// from CLI flags and optionally overridden by a JSON config file.
type Config struct {
	Domain       uint16
	LeaseSeconds int
	SpdpMillis   int
	Interfaces   string
	PreSharedKey string
	Cipher       string
	Log          string
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var jc jsonConfig
	if err := json.NewDecoder(file).Decode(&jc); err != nil {
		return err
	}
	if jc.Domain != nil {
		config.Domain = *jc.Domain
	}
	if jc.LeaseSeconds != nil {
		config.LeaseSeconds = *jc.LeaseSeconds
	}
	if jc.SpdpMillis != nil {
		config.SpdpMillis = *jc.SpdpMillis
	}
	if jc.Interfaces != nil {
		config.Interfaces = *jc.Interfaces
	}
	if jc.PreSharedKey != nil {
		config.PreSharedKey = *jc.PreSharedKey
	}
	if jc.Cipher != nil {
		config.Cipher = *jc.Cipher
	}
	if jc.Log != nil {
		config.Log = *jc.Log
	}
	return nil
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}

// resolveInterfaces turns a comma-separated list of interface names
// into the []net.Interface SPDP multicast joins on. Empty means every
// multicast-capable interface that is up.
func resolveInterfaces(names string) []net.Interface {
	if names == "" {
		return nil
	}
	var out []net.Interface
	for _, name := range splitComma(names) {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			log.Printf("ddsparticipant: interface %q: %v, skipping", name, err)
			continue
		}
		out = append(out, *iface)
	}
	return out
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "ddsparticipant"
	myApp.Usage = "standalone RTPS DomainParticipant"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "domain",
			Value: 0,
			Usage: "DDS domain id",
		},
		cli.IntFlag{
			Name:  "leaseseconds",
			Value: 100,
			Usage: "SPDP lease duration announced to remote participants, in seconds",
		},
		cli.IntFlag{
			Name:  "spdpmillis",
			Value: 0,
			Usage: "override the SPDP announcement period, in milliseconds (0 uses the default)",
		},
		cli.StringFlag{
			Name:  "interfaces",
			Value: "",
			Usage: "comma-separated network interface names to join SPDP multicast on, empty for all",
		},
		cli.StringFlag{
			Name:   "presharedkey",
			Value:  "",
			Usage:  "enable DDS-Security with this pre-shared key; empty disables security",
			EnvVar: "DDSPARTICIPANT_PSK",
		},
		cli.StringFlag{
			Name:  "cipher",
			Value: "aes-gcm",
			Usage: "aes-gcm, chacha20poly1305",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "redirect log output to this file, empty for stderr",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "JSON config file, overrides command line flags",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Domain = uint16(c.Int("domain"))
		config.LeaseSeconds = c.Int("leaseseconds")
		config.SpdpMillis = c.Int("spdpmillis")
		config.Interfaces = c.String("interfaces")
		config.PreSharedKey = c.String("presharedkey")
		config.Cipher = c.String("cipher")
		config.Log = c.String("log")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		log.Println("version:", VERSION)
		log.Println("domain:", config.Domain)
		log.Println("leaseseconds:", config.LeaseSeconds)
		log.Println("interfaces:", config.Interfaces)
		log.Println("security:", config.PreSharedKey != "")
		log.Println("cipher:", config.Cipher)

		p, err := participant.New(participant.Config{
			DomainId:            config.Domain,
			LeaseDuration:       time.Duration(config.LeaseSeconds) * time.Second,
			SpdpPeriod:          time.Duration(config.SpdpMillis) * time.Millisecond,
			MulticastInterfaces: resolveInterfaces(config.Interfaces),
		})
		checkError(err)

		if config.PreSharedKey != "" {
			p.EnableSecurity(participant.SecurityConfig{
				PreSharedKey: []byte(config.PreSharedKey),
				Cipher:       config.Cipher,
			})
		} else {
			color.Yellow("ddsparticipant: no presharedkey set, running with no authentication, access control, or encryption")
		}

		log.Println("guid:", p.Guid())

		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch

		log.Println("shutting down")
		return p.Close()
	}
	myApp.Run(os.Args)
}
