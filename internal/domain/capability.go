package domain

import (
	"fmt"
	"sort"
)

// Capability is one enabled (platform, service) combination together with the
// provider dataset that serves it.
type Capability struct {
	Platform  string
	Service   string
	DatasetID string
}

// CapabilitySet is the versioned table of enabled platform/service
// combinations, loaded once at startup. Job creation validates against it;
// there is no runtime mutation.
type CapabilitySet struct {
	version int
	entries map[string]map[string]string // platform -> service -> dataset id
}

// NewCapabilitySet builds a capability set from explicit entries.
func NewCapabilitySet(version int, caps []Capability) (*CapabilitySet, error) {
	entries := make(map[string]map[string]string, len(caps))
	for _, c := range caps {
		if c.Platform == "" || c.Service == "" || c.DatasetID == "" {
			return nil, fmt.Errorf("capability %+v: platform, service and dataset id are required", c)
		}
		services, ok := entries[c.Platform]
		if !ok {
			services = make(map[string]string)
			entries[c.Platform] = services
		}
		if _, dup := services[c.Service]; dup {
			return nil, fmt.Errorf("duplicate capability %s/%s", c.Platform, c.Service)
		}
		services[c.Service] = c.DatasetID
	}
	return &CapabilitySet{version: version, entries: entries}, nil
}

// Version returns the capability table version.
func (s *CapabilitySet) Version() int {
	return s.version
}

// Supported reports whether the platform/service combination is enabled.
func (s *CapabilitySet) Supported(platform, service string) bool {
	_, err := s.DatasetFor(platform, service)
	return err == nil
}

// DatasetFor returns the provider dataset id serving platform/service.
func (s *CapabilitySet) DatasetFor(platform, service string) (string, error) {
	services, ok := s.entries[platform]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedService, platform, service)
	}
	datasetID, ok := services[service]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedService, platform, service)
	}
	return datasetID, nil
}

// Platforms returns the enabled platforms in sorted order.
func (s *CapabilitySet) Platforms() []string {
	platforms := make([]string, 0, len(s.entries))
	for p := range s.entries {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	return platforms
}
