package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Seed is the initial broker state applied at startup.
//
//	clients:
//	  - client_id: orders-svc
//	    permissions:
//	      - pattern: orders.*
//	        access_type: publisher
//	topics:
//	  - name: orders.created
//	    max_depth: 500
//	rate_limits:
//	  - object_type: client
//	    object_id: orders-svc
//	    rules:
//	      - {from: "10.0.0.0/8", rate: 100, unit: minute}
type Seed struct {
	Clients    []SeedClient    `yaml:"clients"`
	Topics     []SeedTopic     `yaml:"topics"`
	RateLimits []SeedRateLimit `yaml:"rate_limits"`
}

// SeedClient is a client and its ordered permissions.
type SeedClient struct {
	ClientID    string             `yaml:"client_id"`
	Permissions []model.Permission `yaml:"permissions"`
}

// SeedTopic is a topic to create if it does not exist.
type SeedTopic struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MaxDepth    int    `yaml:"max_depth"`
	Inactive    bool   `yaml:"inactive"`
}

// SeedRateLimit is a rate-limit definition.
type SeedRateLimit struct {
	model.RateLimitDefinition `yaml:",inline"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates YAML seed data.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &seed, nil
}

// Validate implements validation.Validatable.
func (s Seed) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Clients),
		validation.Field(&s.Topics),
		validation.Field(&s.RateLimits),
	)
}

// Validate implements validation.Validatable.
func (c SeedClient) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ClientID, validation.Required, validation.Length(1, 255)),
		validation.Field(&c.Permissions, validation.Required, validation.By(checkPermissions)),
	)
}

// Validate implements validation.Validatable.
func (t SeedTopic) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required, validation.Length(1, model.MaxPatternLength)),
		validation.Field(&t.MaxDepth, validation.Min(0)),
	)
}

// Validate implements validation.Validatable.
func (r SeedRateLimit) Validate() error {
	return validation.ValidateStruct(&r.RateLimitDefinition,
		validation.Field(&r.ObjectType, validation.Required),
		validation.Field(&r.ObjectID, validation.Required),
		validation.Field(&r.Rules, validation.Required),
	)
}

func checkPermissions(value interface{}) error {
	perms, _ := value.([]model.Permission)
	for i, p := range perms {
		if p.Pattern == "" {
			return fmt.Errorf("permission %d: pattern is required", i)
		}
		if !p.AccessType.Valid() {
			return fmt.Errorf("permission %d: unknown access type %q", i, p.AccessType)
		}
	}
	return nil
}

// Apply writes the seed through b. Clients and rate limits replace any
// existing definition; topics that already exist are left unchanged.
func (s *Seed) Apply(ctx context.Context, b *broker.Broker, cid string) error {
	for _, c := range s.Clients {
		if err := b.AddClient(ctx, cid, c.ClientID, c.Permissions); err != nil {
			return fmt.Errorf("seed client %s: %w", c.ClientID, err)
		}
	}

	for _, t := range s.Topics {
		opts := []broker.TopicOption{broker.WithTopicDescription(t.Description)}
		if t.MaxDepth > 0 {
			opts = append(opts, broker.WithTopicMaxDepth(t.MaxDepth))
		}
		if t.Inactive {
			opts = append(opts, broker.WithTopicInactive())
		}
		_, err := b.CreateTopic(ctx, cid, "seed", t.Name, opts...)
		if err != nil && !errors.Is(err, broker.ErrDuplicateTopic) {
			return fmt.Errorf("seed topic %s: %w", t.Name, err)
		}
	}

	for _, r := range s.RateLimits {
		if err := b.SetRateLimit(ctx, cid, r.RateLimitDefinition); err != nil {
			return fmt.Errorf("seed rate limit %s/%s: %w", r.ObjectType, r.ObjectID, err)
		}
	}
	return nil
}
