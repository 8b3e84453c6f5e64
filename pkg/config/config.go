// Package config loads server descriptors from YAML files and can watch a
// file for changes so a registry can be re-synced at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kmahoney/tether/pkg/mcp"
)

// Server is the YAML shape of one server entry. Durations are milliseconds,
// zero meaning the built-in default.
type Server struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stream|socket|command
	Endpoint  string            `yaml:"endpoint"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	Headers   map[string]string `yaml:"headers"`

	Auth  string `yaml:"auth"` // none|bearer|oauth2
	Token string `yaml:"token"`

	Tools struct {
		Allow []string `yaml:"allow"`
		Deny  []string `yaml:"deny"`
	} `yaml:"tools"`

	HandshakeTimeoutMS  int `yaml:"handshakeTimeoutMs"`
	HeartbeatIntervalMS int `yaml:"heartbeatIntervalMs"`
	RequestTimeoutMS    int `yaml:"requestTimeoutMs"`
	ReconnectIntervalMS int `yaml:"reconnectIntervalMs"`
	MaxReconnects       int `yaml:"maxReconnects"`
}

// File is the top-level YAML document: servers keyed by id.
type File struct {
	Servers map[string]Server `yaml:"servers"`
}

// Load reads and parses a descriptor file.
func Load(path string) (map[string]mcp.ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse converts YAML into descriptors, validating each entry.
func Parse(data []byte) (map[string]mcp.ServerDescriptor, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	out := make(map[string]mcp.ServerDescriptor, len(f.Servers))
	for id, s := range f.Servers {
		desc, err := s.descriptor(id)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", id, err)
		}
		out[id] = desc
	}
	return out, nil
}

func (s Server) descriptor(id string) (mcp.ServerDescriptor, error) {
	d := mcp.ServerDescriptor{
		ID:      id,
		Name:    s.Name,
		Command: s.Command,
		Args:    s.Args,
		Env:     s.Env,
		Headers: s.Headers,

		Endpoint:             s.Endpoint,
		HandshakeTimeout:     time.Duration(s.HandshakeTimeoutMS) * time.Millisecond,
		HeartbeatInterval:    time.Duration(s.HeartbeatIntervalMS) * time.Millisecond,
		RequestTimeout:       time.Duration(s.RequestTimeoutMS) * time.Millisecond,
		ReconnectInterval:    time.Duration(s.ReconnectIntervalMS) * time.Millisecond,
		MaxReconnectAttempts: s.MaxReconnects,
	}
	d.Tools.Allow = s.Tools.Allow
	d.Tools.Deny = s.Tools.Deny

	switch s.Transport {
	case "", "stream":
		d.Transport = mcp.TransportStream
	case "socket":
		d.Transport = mcp.TransportSocket
	case "command":
		d.Transport = mcp.TransportCommand
	default:
		return mcp.ServerDescriptor{}, fmt.Errorf("unknown transport %q", s.Transport)
	}

	switch d.Transport {
	case mcp.TransportCommand:
		if s.Command == "" {
			return mcp.ServerDescriptor{}, fmt.Errorf("command transport requires a command")
		}
	default:
		if s.Endpoint == "" {
			return mcp.ServerDescriptor{}, fmt.Errorf("%s transport requires an endpoint", d.Transport)
		}
	}

	switch s.Auth {
	case "", "none":
		d.Auth = mcp.AuthNone
	case "bearer":
		d.Auth = mcp.AuthBearer
	case "oauth2":
		d.Auth = mcp.AuthOAuth2
	default:
		return mcp.ServerDescriptor{}, fmt.Errorf("unknown auth mode %q", s.Auth)
	}
	if d.Auth != mcp.AuthNone && s.Token != "" {
		d.Credentials = mcp.StaticCredential(s.Token)
	}

	return d, nil
}
