package auth

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed providers.yaml
var embeddedProviders []byte

// DefaultProvider is the capability entry used for unknown providers
const DefaultProvider = "default"

// Endpoint describes how to reach one protocol of a provider
type Endpoint struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Security string `yaml:"security"`
	Auth     string `yaml:"auth"`
}

// Capability is one row of the provider capability table
type Capability struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Domains         []string `yaml:"domains"`
	OAuthProvider   string   `yaml:"oauth_provider"`
	SupportsOAuth   bool     `yaml:"supports_oauth"`
	SupportsIMAP    bool     `yaml:"supports_imap"`
	SupportsSMTP    bool     `yaml:"supports_smtp"`
	SupportsRefresh bool     `yaml:"supports_refresh"`
	IMAP            Endpoint `yaml:"imap"`
	SMTP            Endpoint `yaml:"smtp"`
	SyncFolders     []string `yaml:"sync_folders"`
}

// Capabilities indexes the capability table by id and email domain
type Capabilities struct {
	byID     map[string]*Capability
	byDomain map[string]*Capability
}

// LoadCapabilities parses the table at path, or the built-in table when path is empty
func LoadCapabilities(path string) (*Capabilities, error) {
	data := embeddedProviders
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read provider table: %w", err)
		}
		data = b
	}
	return ParseCapabilities(data)
}

// ParseCapabilities parses a YAML capability table
func ParseCapabilities(data []byte) (*Capabilities, error) {
	var doc struct {
		Providers []Capability `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse provider table: %w", err)
	}

	c := &Capabilities{
		byID:     make(map[string]*Capability),
		byDomain: make(map[string]*Capability),
	}
	for i := range doc.Providers {
		p := &doc.Providers[i]
		if p.ID == "" {
			return nil, fmt.Errorf("provider %d: id is required", i+1)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("provider %s: duplicate id", p.ID)
		}
		if len(p.SyncFolders) == 0 {
			p.SyncFolders = []string{"INBOX"}
		}
		c.byID[p.ID] = p
		for _, d := range p.Domains {
			c.byDomain[strings.ToLower(d)] = p
		}
	}
	if _, ok := c.byID[DefaultProvider]; !ok {
		c.byID[DefaultProvider] = &Capability{
			ID:           DefaultProvider,
			Name:         "Generic IMAP",
			SupportsIMAP: true,
			IMAP:         Endpoint{Port: 993, Security: "tls", Auth: "login"},
			SyncFolders:  []string{"INBOX"},
		}
	}
	return c, nil
}

// Get returns the entry for id, falling back to the default entry
func (c *Capabilities) Get(id string) *Capability {
	if p, ok := c.byID[id]; ok {
		return p
	}
	return c.byID[DefaultProvider]
}

// ForEmail picks the entry whose domain list contains the address's domain
func (c *Capabilities) ForEmail(email string) *Capability {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return c.byID[DefaultProvider]
	}
	if p, ok := c.byDomain[strings.ToLower(email[at+1:])]; ok {
		return p
	}
	return c.byID[DefaultProvider]
}

// SyncFolders returns the logical folder set synced for a provider
func (c *Capabilities) SyncFolders(id string) []string {
	return c.Get(id).SyncFolders
}
