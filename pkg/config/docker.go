package config

import (
	"net/url"
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal inside a container
// so the database and local model servers on the host stay reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return resolveLoopback(host)
}

// ResolveURLForDocker applies ResolveHostForDocker to the host of rawURL.
// Unparseable URLs are returned unchanged.
func ResolveURLForDocker(rawURL string) string {
	if !IsRunningInDocker() {
		return rawURL
	}
	return resolveURLHost(rawURL)
}

func resolveLoopback(host string) string {
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}

func resolveURLHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	resolved := resolveLoopback(u.Hostname())
	if resolved == u.Hostname() {
		return rawURL
	}
	if port := u.Port(); port != "" {
		u.Host = resolved + ":" + port
	} else {
		u.Host = resolved
	}
	return u.String()
}
