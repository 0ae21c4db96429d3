// Package dns provides the DNS resolution hint for the domain watcher application
package dns

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
)

const (
	resolvConf     = "/etc/resolv.conf"
	fallbackServer = "8.8.8.8:53"
)

// Checker handles DNS operations
type Checker struct {
	cfg    *config.Config
	log    *logger.Logger
	client *dns.Client
	server string
}

// New creates a new DNS checker
func New(cfg *config.Config, log *logger.Logger) *Checker {
	c := &Checker{
		cfg:    cfg,
		log:    log,
		client: &dns.Client{Timeout: cfg.Timeout},
	}
	c.server = c.getNameserver()
	return c
}

// Resolves does a DNS SOA lookup with context timeout.
// Returns true when the answer or the authority section carries an SOA or NS record
// and false on NXDOMAIN. A NOERROR reply without either is inconclusive.
func (c *Checker) Resolves(ctx context.Context, domain string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeSOA)

	resp, _, err := c.client.ExchangeContext(ctx, m, c.server)
	if err != nil {
		return false, fmt.Errorf("DNS query failed: %w", err)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		if hasZoneRecord(resp.Answer) || hasZoneRecord(resp.Ns) {
			return true, nil
		}
		return false, fmt.Errorf("DNS query for %s returned no SOA or NS record", domain)
	case dns.RcodeNameError:
		return false, nil
	default:
		return false, fmt.Errorf("DNS query for %s returned %s", domain, dns.RcodeToString[resp.Rcode])
	}
}

func hasZoneRecord(rrs []dns.RR) bool {
	for _, rr := range rrs {
		switch rr.(type) {
		case *dns.SOA, *dns.NS:
			return true
		}
	}
	return false
}

// Server returns the resolver address queries are sent to
func (c *Checker) Server() string {
	return c.server
}

// getNameserver picks the configured server, else the first one from /etc/resolv.conf,
// else Google's public DNS
func (c *Checker) getNameserver() string {
	if c.cfg.DNSServer != "" {
		return withPort(c.cfg.DNSServer, "53")
	}

	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(conf.Servers) == 0 {
		c.log.Debugf("No usable resolver in %s, using %s", resolvConf, fallbackServer)
		return fallbackServer
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

func withPort(addr, port string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, port)
}
