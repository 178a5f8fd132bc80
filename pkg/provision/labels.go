package provision

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cyroid/cyroid/pkg/models"
)

// kasm images ship with a fixed basic-auth user the proxy must inject.
const kasmCredentials = "kasm_user:vncpassword"

// ContainerName is the engine-visible name for a VM's container.
func ContainerName(vm *models.VM) string {
	return fmt.Sprintf("cyroid-%s-%s", vm.Hostname, shortID(vm.ID))
}

// vncBackend inspects an image reference and reports which port and
// scheme its embedded desktop listens on, and whether the proxy must
// inject credentials.
func vncBackend(image string) (port, scheme string, auth bool) {
	ref := strings.ToLower(image)
	switch {
	case strings.Contains(ref, "linuxserver/") || strings.Contains(ref, "lscr.io/linuxserver"):
		return "3000", "http", false
	case strings.Contains(ref, "kasmweb/"):
		return "6901", "https", true
	default:
		return "6901", "https", false
	}
}

// vncLabels builds the traefik labels that route /vnc/{vm_id} to the
// container's desktop endpoint on both the web and websecure
// entrypoints.
func (p *Provisioner) vncLabels(vmID, port, scheme string, auth bool) map[string]string {
	short := shortID(vmID)
	router := "vnc-" + short
	strip := "vnc-strip-" + short
	rule := fmt.Sprintf("PathPrefix(`/vnc/%s`)", vmID)

	labels := map[string]string{
		"traefik.enable":         "true",
		"traefik.docker.network": p.routingNetwork,

		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", router):   port,
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.scheme", router): scheme,

		fmt.Sprintf("traefik.http.routers.%s.rule", router):        rule,
		fmt.Sprintf("traefik.http.routers.%s.entrypoints", router): "web",
		fmt.Sprintf("traefik.http.routers.%s.service", router):     router,
		fmt.Sprintf("traefik.http.routers.%s.priority", router):    "100",

		fmt.Sprintf("traefik.http.routers.%s-secure.rule", router):        rule,
		fmt.Sprintf("traefik.http.routers.%s-secure.entrypoints", router): "websecure",
		fmt.Sprintf("traefik.http.routers.%s-secure.tls", router):         "true",
		fmt.Sprintf("traefik.http.routers.%s-secure.service", router):     router,
		fmt.Sprintf("traefik.http.routers.%s-secure.priority", router):    "100",

		fmt.Sprintf("traefik.http.middlewares.%s.stripprefix.prefixes", strip): "/vnc/" + vmID,
	}

	// Self-signed upstream certs must not break the proxy connection.
	if scheme == "https" {
		labels[fmt.Sprintf("traefik.http.services.%s.loadbalancer.serversTransport", router)] = "insecure-transport@file"
	}

	middlewares := []string{strip}
	if auth {
		authName := "vnc-auth-" + short
		cred := base64.StdEncoding.EncodeToString([]byte(kasmCredentials))
		labels[fmt.Sprintf("traefik.http.middlewares.%s.headers.customrequestheaders.Authorization", authName)] = "Basic " + cred
		middlewares = append(middlewares, authName)
	}
	chain := strings.Join(middlewares, ",")
	labels[fmt.Sprintf("traefik.http.routers.%s.middlewares", router)] = chain
	labels[fmt.Sprintf("traefik.http.routers.%s-secure.middlewares", router)] = chain

	return labels
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
