package app

import (
	"context"
	"net"
	"strings"
)

// netInterface is the part of net.Interface the LAN lookup needs
type netInterface interface {
	Flags() net.Flags
	Addrs() ([]net.Addr, error)
}

type hostInterface struct{ net.Interface }

func (h hostInterface) Flags() net.Flags { return h.Interface.Flags }

// interfaceLister enumerates the host's network interfaces
type interfaceLister func() ([]netInterface, error)

func systemInterfaces() ([]netInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]netInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, &hostInterface{iface})
	}
	return out, nil
}

// lanAddress picks the IPv4 address judges' phones are most likely to
// reach: a private address if there is one, else the first usable one,
// else "localhost".
func lanAddress(list interfaceLister) string {
	ifaces, err := list()
	if err != nil {
		return "localhost"
	}

	var fallback net.IP
	for _, iface := range ifaces {
		if flags := iface.Flags(); flags&net.FlagUp == 0 || flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := ipv4Of(addr)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			if ip.IsPrivate() {
				return ip.String()
			}
			if fallback == nil {
				fallback = ip
			}
		}
	}
	if fallback != nil {
		return fallback.String()
	}
	return "localhost"
}

func ipv4Of(addr net.Addr) net.IP {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	return ip.To4()
}

// ensureBaseURL stores baseURL unless an operator already configured a
// reachable one. A stored localhost URL is replaced.
func (a *App) ensureBaseURL(ctx context.Context, baseURL string) {
	existing, err := a.settings.GetBaseURL(ctx)
	if err != nil {
		a.log.Warn("Failed to read base URL", "error", err)
		return
	}
	if existing != "" && !strings.Contains(existing, "localhost") {
		return
	}
	if err := a.settings.SetBaseURL(ctx, baseURL); err != nil {
		a.log.Warn("Failed to set default base URL", "error", err)
		return
	}
	a.log.Info("Default base URL set", "url", baseURL)
}
