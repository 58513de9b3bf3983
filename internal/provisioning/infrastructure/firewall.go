package infrastructure

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
)

// provisionFirewall ensures the cluster firewall: SSH ingress scoped to
// the operator's current address, plus an allowance for cluster-internal
// traffic. The firewall attaches to every server carrying the cluster
// label, so compute and scratch servers created later are covered the
// moment they come up.
func (p *Provisioner) provisionFirewall(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.Firewall(cfg.ClusterName)
	ctx.Observer.Printf("[%s] Reconciling firewall %s...", phase, name)

	publicIP, err := ctx.Infra.GetPublicIP(ctx)
	if err != nil {
		ctx.Observer.Printf("[%s] Public IP lookup failed, SSH ingress stays open: %v", phase, err)
		publicIP = ""
	}
	ctx.State.PublicIP = publicIP

	rules := firewallRules(publicIP, cfg.NetworkCIDR)

	existing, err := ctx.Infra.GetFirewall(ctx, name)
	if err != nil {
		return fail(ctx, "firewall", name, fmt.Errorf("failed to look up firewall %s: %w", name, err))
	}

	clusterLabels := labels.ForCluster(cfg.ClusterName).Build()
	firewall, err := ctx.Infra.EnsureFirewall(ctx, name, rules, clusterLabels, labels.ClusterSelector(cfg.ClusterName))
	if err != nil {
		return fail(ctx, "firewall", name, err)
	}
	ctx.State.Firewall = firewall

	switch {
	case existing == nil:
		provisioning.LogResourceCreated(ctx.Observer, phase, "firewall", name, strconv.FormatInt(firewall.ID, 10))
		report(ctx, "firewall", name, provisioning.StatusConverged, fmt.Sprintf("created with %d rules", len(rules)))
	case rulesEqual(existing.Rules, rules):
		provisioning.LogResourceExists(ctx.Observer, phase, "firewall", name, strconv.FormatInt(firewall.ID, 10))
		report(ctx, "firewall", name, provisioning.StatusSatisfied, fmt.Sprintf("%d rules", len(rules)))
	default:
		report(ctx, "firewall", name, provisioning.StatusConverged, "rules updated")
	}
	return nil
}

// firewallRules builds the cluster rule set. With a known operator
// address SSH is scoped to it; without one SSH stays open rather than
// locking the operator out. Cluster-internal traffic is allowed for the
// whole network range so the storage protocols between nodes pass.
func firewallRules(operatorIP, clusterCIDR string) []hcloud.FirewallRule {
	sshSources := openSources()
	if operatorIP != "" {
		if _, ipNet, err := net.ParseCIDR(operatorIP + "/32"); err == nil {
			sshSources = []net.IPNet{*ipNet}
		}
	}

	rules := []hcloud.FirewallRule{{
		Description: hcloud.Ptr("SSH from the operator"),
		Direction:   hcloud.FirewallRuleDirectionIn,
		Protocol:    hcloud.FirewallRuleProtocolTCP,
		Port:        hcloud.Ptr("22"),
		SourceIPs:   sshSources,
	}}

	_, intra, err := net.ParseCIDR(clusterCIDR)
	if err != nil {
		return rules
	}
	intraSources := []net.IPNet{*intra}
	rules = append(rules,
		hcloud.FirewallRule{
			Description: hcloud.Ptr("cluster-internal TCP"),
			Direction:   hcloud.FirewallRuleDirectionIn,
			Protocol:    hcloud.FirewallRuleProtocolTCP,
			Port:        hcloud.Ptr("1-65535"),
			SourceIPs:   intraSources,
		},
		hcloud.FirewallRule{
			Description: hcloud.Ptr("cluster-internal UDP"),
			Direction:   hcloud.FirewallRuleDirectionIn,
			Protocol:    hcloud.FirewallRuleProtocolUDP,
			Port:        hcloud.Ptr("1-65535"),
			SourceIPs:   intraSources,
		},
		hcloud.FirewallRule{
			Description: hcloud.Ptr("cluster-internal ICMP"),
			Direction:   hcloud.FirewallRuleDirectionIn,
			Protocol:    hcloud.FirewallRuleProtocolICMP,
			SourceIPs:   intraSources,
		},
	)
	return rules
}

func openSources() []net.IPNet {
	var sources []net.IPNet
	for _, cidr := range []string{"0.0.0.0/0", "::/0"} {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err == nil {
			sources = append(sources, *ipNet)
		}
	}
	return sources
}

// rulesEqual compares the live rule set against the desired one so an
// unchanged firewall reports as already satisfied even though the API
// call reasserts the rules either way.
func rulesEqual(live, desired []hcloud.FirewallRule) bool {
	if len(live) != len(desired) {
		return false
	}
	for i := range desired {
		if ruleKey(live[i]) != ruleKey(desired[i]) {
			return false
		}
	}
	return true
}

func ruleKey(r hcloud.FirewallRule) string {
	port := ""
	if r.Port != nil {
		port = *r.Port
	}
	key := fmt.Sprintf("%s/%s/%s", r.Direction, r.Protocol, port)
	for _, src := range r.SourceIPs {
		key += "/" + src.String()
	}
	return key
}
